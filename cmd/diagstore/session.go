package main

import (
	"context"
	"errors"

	"github.com/arthur-debert/diagstore/diagstore/document"
	"github.com/arthur-debert/diagstore/diagstore/entity"
	"github.com/arthur-debert/diagstore/diagstore/storage"
)

// store returns the document file named by --file
func (cli *CLI) store(operation string) (*storage.JSONFile, error) {
	path := cli.viperInst.GetString("file")
	if path == "" {
		return nil, NewConfigError(operation, "no document file given",
			"Pass --file or set DIAGSTORE_FILE",
			CommonSuggestions.CheckConfig)
	}
	return storage.NewJSONFile(path, storage.WithLogger(cli.logger)), nil
}

func (cli *CLI) newDocument() *document.Document {
	opts := []document.Option{document.WithLogger(cli.logger)}
	if cli.viperInst.GetBool("property-history") {
		opts = append(opts, document.WithPropertyHistory())
	}
	return document.New(opts...)
}

// edit runs fn against the stored document and writes the result back under
// the file lock. A missing file starts an empty document. With --dry-run the
// document is loaded and edited but never written.
func (cli *CLI) edit(ctx context.Context, operation string, fn func(doc *document.Document) error) (*document.Document, error) {
	s, err := cli.store(operation)
	if err != nil {
		return nil, err
	}
	doc := cli.newDocument()
	dryRun := cli.viperInst.GetBool("dry-run")

	if dryRun {
		err = doc.Load(ctx, s)
		if errors.Is(err, document.ErrNoDocument) {
			err = nil
		}
		if err == nil {
			err = fn(doc)
		}
	} else {
		err = doc.Edit(ctx, s, func() error { return fn(doc) })
	}
	if err != nil {
		return nil, WrapError(operation, err, CommonSuggestions.CheckFile, CommonSuggestions.TryDryRun)
	}

	cli.logger.Info("operation",
		"operation", operation,
		"file", s.Path(),
		"dry_run", dryRun,
		"undo_depth", doc.History().UndoCount(),
		"redo_depth", doc.History().RedoCount())
	return doc, nil
}

// view loads the stored document for reading
func (cli *CLI) view(ctx context.Context, operation string) (*document.Document, error) {
	s, err := cli.store(operation)
	if err != nil {
		return nil, err
	}
	doc := cli.newDocument()
	if err := doc.Load(ctx, s); err != nil {
		if errors.Is(err, document.ErrNoDocument) {
			return nil, &CLIError{
				Operation:   operation,
				Cause:       "document file is missing or empty",
				Suggestions: []string{"Create an entity first, e.g. 'diagstore create node'", CommonSuggestions.CheckFile},
				Underlying:  err,
			}
		}
		return nil, WrapError(operation, err, CommonSuggestions.CheckFile, CommonSuggestions.CheckPerms)
	}
	return doc, nil
}

// lookupEntity resolves a command line id within doc
func lookupEntity(doc *document.Document, operation, arg string) (entity.Entity, error) {
	id, err := doc.ParseID(arg)
	if err != nil {
		return nil, NewValidationError(operation, "entity id", arg,
			"Entity IDs are non-negative integers",
			CommonSuggestions.CheckID)
	}
	e, ok := doc.Entity(id)
	if !ok {
		return nil, NewNotFoundError(operation, "entity", arg, CommonSuggestions.CheckID)
	}
	return e, nil
}
