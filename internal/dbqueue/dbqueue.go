// Package dbqueue implements the DB Offload (C6): any event tag beginning
// with "db" is handed to a detached worker, which performs the storage
// operation and posts its reply back onto the originating pipe.  The
// multiplexer never executes a query itself and never waits on this
// package's workers.
//
// Grounded on original_source/x84/db.py's choice of sqlite ("quick ...
// for now, but this prevents slow database queries from locking the i/o
// event loop"); here via gorm.io/gorm + gorm.io/driver/sqlite, the same
// storage stack nabbar-golib wires up for its own lightest-weight driver.
package dbqueue

/*
 * dbqueue.go
 * DB Offload (C6)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sysopnet/bbsmux/internal/pipe"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Handler performs one storage operation named by name (the part of the
// tag after "db") against payload, returning the data for the reply
// message.  Handlers are registered by the code that owns the schema; the
// core knows nothing about what a handler does (spec.md's "user-account
// storage... not designed here").
type Handler func(db *gorm.DB, name string, payload any) (reply any, err error)

// Queue dispatches db* requests to detached workers against a single
// *gorm.DB.  Workers are not tracked for join (spec.md §4.6); Queue only
// keeps the database handle and the handler table.
type Queue struct {
	db  *gorm.DB
	log *slog.Logger

	handlers map[string]Handler
	fallback Handler
}

// Open opens (creating if necessary) a sqlite-backed Queue at path, e.g.
// "bbs.sqlite3" or ":memory:" for tests.
func Open(path string, log *slog.Logger) (*Queue, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if nil != err {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return &Queue{db: db, log: log, handlers: make(map[string]Handler)}, nil
}

// DB returns the underlying *gorm.DB, so callers can AutoMigrate their own
// schemas before registering handlers.
func (q *Queue) DB() *gorm.DB { return q.db }

// Handle registers the handler invoked when a db* tag's name exactly
// matches name (e.g. Handle("user:get", ...) for tag "dbuser:get").
func (q *Queue) Handle(name string, h Handler) { q.handlers[name] = h }

// HandleFallback registers a handler invoked for any db* request whose
// name has no specific handler registered.
func (q *Queue) HandleFallback(h Handler) { q.fallback = h }

// ReplyTag returns the pinned reply-tag schema for a db* request tag:
// "db<name>" -> "db<name>:reply" (spec.md §9, Open Question #3).
func ReplyTag(requestTag string) string { return requestTag + ":reply" }

// Submit hands one db* request off to a detached worker.  It returns
// immediately; the multiplexer must not block here.  side is the
// requesting session's pipe, used only to post the reply.
func (q *Queue) Submit(side pipe.Side, msg pipe.Message) {
	go q.run(side, msg)
}

// run is the detached worker body.  It must never touch the Terminal
// Registry (spec.md §4.6); all it knows is a pipe side and a message.
func (q *Queue) run(side pipe.Side, msg pipe.Message) {
	reqID := uuid.NewString()
	h, ok := q.handlers[msg.Name]
	if !ok {
		h = q.fallback
	}
	if nil == h {
		q.log.Error(
			"no db handler registered",
			"name", msg.Name,
			"request_id", reqID,
		)
		return
	}

	reply, err := h(q.db, msg.Name, msg.DB)
	if nil != err {
		q.log.Error(
			"db query failed",
			"name", msg.Name,
			"request_id", reqID,
			"error", err,
		)
	}

	out := pipe.Message{
		Kind:   pipe.KindDB,
		Name:   msg.Name,
		RawTag: ReplyTag(msg.RawTag),
		DB:     reply,
	}
	if nil != err {
		out.Exception = err
	}
	if sendErr := side.Send(out); nil != sendErr {
		q.log.Debug(
			"db reply dropped, pipe gone",
			"name", msg.Name,
			"request_id", reqID,
		)
	}
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	sqlDB, err := q.db.DB()
	if nil != err {
		return err
	}
	return sqlDB.Close()
}
