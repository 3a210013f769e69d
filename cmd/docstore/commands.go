// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mobiletoly/go-docstore/docstore"
	"github.com/mobiletoly/go-docstore/document"
	"github.com/mobiletoly/go-docstore/internal/checkpoint"
)

var errUsage = errors.New("usage")

// app runs one verb against an open store.
type app struct {
	cfg    *Config
	area   *docstore.Area
	names  document.FieldNames
	out    io.Writer
	logger *slog.Logger
}

func (a *app) run(ctx context.Context, verb string, args []string) error {
	switch verb {
	case "insert":
		return a.insert(ctx, args)
	case "get":
		return a.get(ctx, args)
	case "list":
		return a.list(ctx, args)
	case "count":
		return a.count(ctx, args)
	case "update":
		return a.update(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "pull":
		return a.pull(ctx)
	case "watch":
		return a.watch(ctx)
	case "history":
		return a.history(ctx, args)
	case "prune":
		return a.prune(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, verb)
	}
}

func (a *app) insert(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: insert <content-type> <json>", errUsage)
	}
	doc, err := a.parseDocument(args[1])
	if err != nil {
		return err
	}
	out, err := a.area.Insert(ctx, args[0], doc)
	if err != nil {
		return err
	}
	return a.print(a.names.Render(out))
}

func (a *app) get(ctx context.Context, args []string) error {
	id, err := singleID("get", args)
	if err != nil {
		return err
	}
	doc, err := a.area.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return &docstore.NotFoundError{Area: a.area.Name(), ID: id}
	}
	return a.print(a.names.Render(doc))
}

func (a *app) list(ctx context.Context, args []string) error {
	contentType := ""
	if len(args) > 0 {
		contentType = args[0]
	}
	docs, err := a.area.GetPage(ctx, contentType, a.cfg.Skip, a.cfg.Take)
	if err != nil {
		return err
	}
	return a.printDocuments(docs)
}

func (a *app) count(ctx context.Context, args []string) error {
	contentType := ""
	if len(args) > 0 {
		contentType = args[0]
	}
	n, err := a.area.Count(ctx, contentType)
	if err != nil {
		return err
	}
	return a.print(docstore.CountResponse{Area: a.area.Name(), ContentType: contentType, Count: n})
}

func (a *app) update(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: update <id> <json>", errUsage)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	doc, err := a.parseDocument(args[1])
	if err != nil {
		return err
	}
	out, err := a.area.Update(ctx, id, doc)
	if err != nil {
		return err
	}
	return a.print(a.names.Render(out))
}

func (a *app) delete(ctx context.Context, args []string) error {
	id, err := singleID("delete", args)
	if err != nil {
		return err
	}
	doc, err := a.area.Delete(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return &docstore.NotFoundError{Area: a.area.Name(), ID: id}
	}
	return a.print(a.names.Render(doc))
}

func (a *app) pull(ctx context.Context) error {
	cc, err := a.area.ChangeLog().Pull(ctx, a.cfg.Since, docstore.WithLimit(a.cfg.Limit))
	if err != nil {
		return err
	}
	resp := docstore.ChangesResponse{
		Changes: make([]docstore.ChangeResponse, 0, cc.Len()),
		Token:   cc.Token,
		Counts: docstore.CountsResponse{
			Total:   cc.Count.Total,
			Created: cc.Count.Created,
			Updated: cc.Count.Updated,
			Deleted: cc.Count.Deleted,
			Faulty:  cc.Count.Faulty,
		},
	}
	for _, ch := range cc.Changes {
		resp.Changes = append(resp.Changes, ch.ToChangeResponse(a.names))
	}
	return a.print(resp)
}

// watch streams changes as JSON lines, checkpointing the token after each one.
// An explicit --since overrides the stored checkpoint.
func (a *app) watch(ctx context.Context) error {
	cp, err := checkpoint.Open(a.cfg.CheckpointDB)
	if err != nil {
		return err
	}
	defer cp.Close()

	since := a.cfg.Since
	if since == 0 {
		if since, err = cp.Load(ctx, a.cfg.Consumer, a.area.Name()); err != nil {
			return err
		}
	}
	a.logger.Info("Watching area", "area", a.area.Name(), "since", since, "consumer", a.cfg.Consumer)

	enc := json.NewEncoder(a.out)
	names := a.names
	sub, err := a.area.ChangeLog().Subscribe(ctx, since, docstore.ObserverFuncs{
		Next: func(ctx context.Context, ch *docstore.Change) error {
			if err := enc.Encode(ch.ToChangeResponse(names)); err != nil {
				return err
			}
			return cp.Save(ctx, a.cfg.Consumer, a.area.Name(), ch.Token)
		},
	})
	if err != nil {
		return err
	}
	<-sub.Done()
	a.logger.Info("Watch stopped", "area", a.area.Name(), "cursor", sub.Cursor())
	return sub.Err()
}

func (a *app) history(ctx context.Context, args []string) error {
	id, err := singleID("history", args)
	if err != nil {
		return err
	}
	if !a.area.History().Enabled() {
		return fmt.Errorf("%w: %s", docstore.ErrHistoryDisabled, a.area.Name())
	}
	docs, err := a.area.History().List(ctx, id, docstore.Range{Limit: a.cfg.Take})
	if err != nil {
		return err
	}
	return a.printDocuments(docs)
}

func (a *app) prune(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: prune <age>", errUsage)
	}
	age, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("invalid age %q: %w", args[0], err)
	}
	n, err := a.area.History().DeleteOlderThan(ctx, age)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"area": a.area.Name(), "removed": n})
}

// parseDocument decodes a JSON object. Numbers keep their integer form.
func (a *app) parseDocument(s string) (*document.Document, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid document JSON: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("invalid document JSON: expected an object")
	}
	return a.names.Parse(m)
}

func (a *app) printDocuments(docs []*document.Document) error {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, a.names.Render(d))
	}
	return a.print(out)
}

func (a *app) print(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := a.out.Write(buf.Bytes())
	return err
}

func singleID(verb string, args []string) (uuid.UUID, error) {
	if len(args) != 1 {
		return uuid.Nil, fmt.Errorf("%w: %s <id>", errUsage, verb)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	return id, nil
}
