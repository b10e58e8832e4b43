// Command engine is a demo CLI driver, the counterpart to the teacher's
// refactor_code/cmd/server: it wires the internal packages into one
// connection, opens a row-store tree, and inserts and commits one key
// through a cursor and a transaction so the pieces can be exercised
// outside of their package-level unit tests.
package main

import (
	"flag"
	"log/slog"
	"os"

	"govetachun/mvccbtree/internal/config"
	"govetachun/mvccbtree/internal/cursor"
	"govetachun/mvccbtree/internal/history"
	"govetachun/mvccbtree/internal/rts"
	"govetachun/mvccbtree/internal/txn"
	"govetachun/mvccbtree/internal/walk"
	"govetachun/mvccbtree/internal/wtpage"
)

// Engine is one open connection: a shared transaction manager, a shared
// history store, and the set of row-store trees it has opened, each
// with its own hazard registry (spec §5 "shared-resource policy").
type Engine struct {
	Config config.Config
	Txns   *txn.Manager
	HS     *history.Store
	RTS    *rts.Engine

	trees map[string]*openTree
}

type openTree struct {
	bt  *cursor.Btree
	reg *walk.Registry
}

// Open boots a connection from cfg: a dhandle-cached transaction
// manager and one shared history store (spec §4.5, §6).
func Open(cfg config.Config) (*Engine, error) {
	mgr, err := txn.NewManager(cfg.DhandleCacheSize)
	if err != nil {
		return nil, err
	}
	hsReg := walk.NewRegistry()
	hs := history.NewStore(hsReg)
	return &Engine{
		Config: cfg,
		Txns:   mgr,
		HS:     hs,
		RTS:    rts.NewEngine(hs),
		trees:  make(map[string]*openTree),
	}, nil
}

// OpenRowTree returns the named row-store tree, opening (and caching,
// via the dhandle cache) a fresh one-leaf tree on first use.
func (e *Engine) OpenRowTree(name string) *cursor.Btree {
	return e.Txns.OpenTree(name, func() *cursor.Btree {
		bt := cursor.NewBtree(wtpage.PageLeafRow, wtpage.NewLeafRow())
		e.trees[name] = &openTree{bt: bt, reg: walk.NewRegistry()}
		return bt
	})
}

// Cursor opens a cursor on the named tree. The tree must already have
// been opened via OpenRowTree.
func (e *Engine) Cursor(name string) *cursor.Cursor {
	t := e.trees[name]
	return cursor.NewCursor(t.bt, t.reg)
}

func main() {
	cfgPath := flag.String("config", "", "path to a TOML config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("engine starting", "page_size", cfg.PageSize, "block_compressor", cfg.BlockCompressor)

	eng, err := Open(cfg)
	if err != nil {
		logger.Error("engine open failed", "error", err)
		os.Exit(1)
	}

	eng.OpenRowTree("demo")
	sess, err := eng.Txns.NewSession(16)
	if err != nil {
		logger.Error("session open failed", "error", err)
		os.Exit(1)
	}

	t, err := sess.Begin(10)
	if err != nil {
		logger.Error("begin failed", "error", err)
		os.Exit(1)
	}
	c := eng.Cursor("demo")
	defer c.Close()
	if err := c.Insert([]byte("apple"), []byte("1"), t.AsCursorTxn(10), true); err != nil {
		logger.Error("insert failed", "error", err)
		os.Exit(1)
	}
	if err := t.Commit(10); err != nil {
		logger.Error("commit failed", "error", err)
		os.Exit(1)
	}
	logger.Info("inserted", "key", "apple", "commit_ts", 10)
}
