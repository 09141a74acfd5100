package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/arthur-debert/diagstore/diagstore/document"
	"github.com/arthur-debert/diagstore/diagstore/entity"
	"github.com/arthur-debert/diagstore/diagstore/history"
	"github.com/arthur-debert/diagstore/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func describe(e entity.Entity) string {
	return fmt.Sprintf("%s %d", kindTitle(e.Kind()), e.ID().N)
}

func kindNames() string {
	names := make([]string, 0, len(types.Kinds()))
	for _, k := range types.Kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}

// addKindsCommand lists entity kinds and their properties
func (cli *CLI) addKindsCommand() {
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List entity kinds and their properties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list kindList
			for _, kind := range types.Kinds() {
				e, err := entity.New(kind, entity.NewID(0, uuid.Nil))
				if err != nil {
					return err
				}
				list = append(list, kindView{
					Kind:       kind.String(),
					Title:      kindTitle(kind),
					Properties: entity.Properties(e),
				})
			}
			return cli.output(cmd.OutOrStdout(), list)
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

// addCreateCommand adds an entity, optionally setting a few common properties
// in the same undo step
func (cli *CLI) addCreateCommand() {
	cmd := &cobra.Command{
		Use:   "create <kind>",
		Short: "Create an entity",
		Long: `Create an entity of the given kind. Known kinds: node, edge, ellipse,
path, style. Flags set properties of the new entity as part of the same
undo step.

Examples:
  diagstore -f flow.json create node --text Start --pos 0,0 --style bold
  diagstore -f flow.json create ellipse --pos 50,50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "create entity"
			kind, err := types.ParseKind(args[0])
			if err != nil {
				return NewValidationError(op, "kind", args[0], "Known kinds: "+kindNames())
			}
			props, err := createProperties(cmd.Flags())
			if err != nil {
				return err
			}

			var created entity.Entity
			doc, err := cli.edit(cmd.Context(), op, func(doc *document.Document) error {
				return doc.Transaction("Create "+kind.String(), func() error {
					id := doc.CreateEntity(kind)
					created, _ = doc.Entity(id)
					for _, p := range props {
						if err := entity.SetProperty(created, p.name, p.value); err != nil {
							return NewValidationError(op, "property", p.name,
								fmt.Sprintf("%s properties: %s", kindTitle(kind), strings.Join(entity.Properties(created), ", ")))
						}
					}
					return nil
				})
			})
			if err != nil {
				return err
			}
			return cli.output(cmd.OutOrStdout(), cli.resultOf(doc, "Created "+describe(created), created))
		},
	}
	cmd.Flags().String(entity.PropPos, "", "Position as x,y")
	cmd.Flags().String(entity.PropText, "", "Node text")
	cmd.Flags().String(entity.PropStyle, "", "Style name")
	for _, name := range []string{entity.PropPos, entity.PropText, entity.PropStyle} {
		_ = cmd.Flags().SetAnnotation(name, propertyAnnotation, []string{"true"})
	}
	cli.rootCmd.AddCommand(cmd)
}

// propertyAnnotation marks create flags that map onto entity properties
const propertyAnnotation = "diagstore_property"

type propertyValue struct {
	name  string
	value json.RawMessage
}

// createProperties collects the property flags given on the command line
func createProperties(flags *pflag.FlagSet) ([]propertyValue, error) {
	var (
		props []propertyValue
		err   error
	)
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || !f.Changed || f.Annotations[propertyAnnotation] == nil {
			return
		}
		var value any = f.Value.String()
		if f.Name == entity.PropPos {
			pos, perr := types.ParsePos(f.Value.String())
			if perr != nil {
				err = NewValidationError("create entity", "position", f.Value.String(), "Use the form x,y, e.g. --pos 10,20")
				return
			}
			value = pos
		}
		raw, _ := json.Marshal(value)
		props = append(props, propertyValue{f.Name, raw})
	})
	return props, err
}

func (cli *CLI) addDeleteCommand() {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "delete entity"
			var what string
			doc, err := cli.edit(cmd.Context(), op, func(doc *document.Document) error {
				e, err := lookupEntity(doc, op, args[0])
				if err != nil {
					return err
				}
				what = describe(e)
				return doc.Transaction("Delete "+what, func() error {
					doc.DeleteEntity(e.ID())
					return nil
				})
			})
			if err != nil {
				return err
			}
			return cli.output(cmd.OutOrStdout(), cli.resultOf(doc, "Deleted "+what, nil))
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

// addSetCommand replaces one property, or a value nested inside it when the
// property is given as a dotted path
func (cli *CLI) addSetCommand() {
	cmd := &cobra.Command{
		Use:   "set <id> <property> <json-value>",
		Short: "Set a property of an entity",
		Long: `Set a property of an entity to a JSON value. The property may be a dotted
path into the property's value.

Examples:
  diagstore -f flow.json set 1 text '"Start here"'
  diagstore -f flow.json set 1 pos '{"x": 5, "y": 5}'
  diagstore -f flow.json set 1 pos.x 12
  diagstore -f flow.json set 0 props.color '"red"'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "set property"
			path, value := args[1], args[2]
			if !gjson.Valid(value) {
				return NewValidationError(op, "JSON value", value,
					`Quote strings as JSON, e.g. '"hello"'`)
			}

			var changed entity.Entity
			doc, err := cli.edit(cmd.Context(), op, func(doc *document.Document) error {
				e, err := lookupEntity(doc, op, args[0])
				if err != nil {
					return err
				}
				name, raw, err := propertyUpdate(e, path, value)
				if err != nil {
					return err
				}
				changed = e
				return doc.Transaction(fmt.Sprintf("Set %s of %s", path, describe(e)), func() error {
					if err := entity.SetProperty(e, name, raw); err != nil {
						return NewValidationError(op, "value for "+path, value, err.Error())
					}
					return nil
				})
			})
			if err != nil {
				return err
			}
			return cli.output(cmd.OutOrStdout(), cli.resultOf(doc, fmt.Sprintf("Set %s of %s", path, describe(changed)), changed))
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

// propertyUpdate resolves path against e and returns the top level property
// to replace together with its new value
func propertyUpdate(e entity.Entity, path, value string) (string, json.RawMessage, error) {
	name, rest, nested := strings.Cut(path, ".")
	current, ok := entity.Property(e, name)
	if !ok {
		return "", nil, NewValidationError("set property", "property", name,
			fmt.Sprintf("%s properties: %s", kindTitle(e.Kind()), strings.Join(entity.Properties(e), ", ")))
	}
	if !nested {
		return name, json.RawMessage(value), nil
	}
	updated, err := sjson.SetRawBytes(current, rest, []byte(value))
	if err != nil {
		return "", nil, NewValidationError("set property", "path", path, err.Error())
	}
	return name, updated, nil
}

// addMoveCommand moves an entity through several positions as one undo step
func (cli *CLI) addMoveCommand() {
	cmd := &cobra.Command{
		Use:   "move <id> <x,y>...",
		Short: "Move an entity through one or more positions",
		Long: `Move an entity through one or more positions. All moves form a single
undo step that restores the original position.

Examples:
  diagstore -f flow.json move 1 10,0 20,0 30,0`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "move entity"
			positions := make([]types.Pos, 0, len(args)-1)
			for _, arg := range args[1:] {
				pos, err := types.ParsePos(arg)
				if err != nil {
					return NewValidationError(op, "position", arg, "Use the form x,y, e.g. 10,20")
				}
				positions = append(positions, pos)
			}

			var moved entity.Entity
			doc, err := cli.edit(cmd.Context(), op, func(doc *document.Document) error {
				e, err := lookupEntity(doc, op, args[0])
				if err != nil {
					return err
				}
				p, ok := e.(positioned)
				if !ok {
					return &CLIError{
						Operation:   op,
						Cause:       fmt.Sprintf("%s has no position", describe(e)),
						Suggestions: []string{"Nodes, edges and ellipses can be moved"},
					}
				}
				moved = e
				return doc.Transaction("Move "+describe(e), func() error {
					for _, pos := range positions {
						p.SetPos(pos)
					}
					return nil
				})
			})
			if err != nil {
				return err
			}
			last := positions[len(positions)-1]
			return cli.output(cmd.OutOrStdout(), cli.resultOf(doc, fmt.Sprintf("Moved %s to %s", describe(moved), last), moved))
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

type positioned interface {
	SetPos(types.Pos)
}

func (cli *CLI) addListCommand() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := cli.view(cmd.Context(), "list entities")
			if err != nil {
				return err
			}
			return cli.output(cmd.OutOrStdout(), listOf(doc))
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

func (cli *CLI) addShowCommand() {
	cmd := &cobra.Command{
		Use:   "show <id> [path]",
		Short: "Show an entity, or one value inside it",
		Long: `Show an entity. With a path, print only the value it selects from the
entity's state.

Examples:
  diagstore -f flow.json show 1
  diagstore -f flow.json show 1 pos.x`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "show entity"
			doc, err := cli.view(cmd.Context(), op)
			if err != nil {
				return err
			}
			e, err := lookupEntity(doc, op, args[0])
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return cli.output(cmd.OutOrStdout(), viewOf(e))
			}

			res := gjson.GetBytes(e.Save(), args[1])
			if !res.Exists() {
				return NewValidationError(op, "path", args[1],
					fmt.Sprintf("%s properties: %s", kindTitle(e.Kind()), strings.Join(entity.Properties(e), ", ")))
			}
			return cli.output(cmd.OutOrStdout(), valueView{
				ID:    e.ID().N,
				Path:  args[1],
				Value: res.Value(),
				raw:   compact(json.RawMessage(res.Raw)),
			})
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

// addValidateCommand checks that the document file loads cleanly
func (cli *CLI) addValidateCommand() {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that the document file is well formed",
		Long:  "Load the document file, checking its metadata, entities and history, without changing it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := cli.view(cmd.Context(), "validate document")
			if err != nil {
				return err
			}
			return cli.output(cmd.OutOrStdout(), validationReport{
				File:     cli.viperInst.GetString("file"),
				Valid:    true,
				Entities: doc.Len(),
				Undo:     doc.History().UndoCount(),
				Redo:     doc.History().RedoCount(),
				Version:  doc.Metadata().Version,
			})
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

func (cli *CLI) addUndoCommand() {
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo the last change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.step(cmd, "undo", "Undid", (*history.Manager).PeekUndo, (*document.Document).Undo)
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

func (cli *CLI) addRedoCommand() {
	cmd := &cobra.Command{
		Use:   "redo",
		Short: "Redo the last undone change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.step(cmd, "redo", "Redid", (*history.Manager).PeekRedo, (*document.Document).Redo)
		},
	}
	cli.rootCmd.AddCommand(cmd)
}

// step runs one undo or redo against the stored document
func (cli *CLI) step(cmd *cobra.Command, op, verb string,
	peek func(*history.Manager) (history.GroupInfo, bool),
	apply func(*document.Document) error,
) error {
	var info history.GroupInfo
	doc, err := cli.edit(cmd.Context(), op, func(doc *document.Document) error {
		info, _ = peek(doc.History())
		return apply(doc)
	})
	if err != nil {
		var cliErr *CLIError
		if errors.As(err, &cliErr) && (errors.Is(err, history.ErrNothingToUndo) || errors.Is(err, history.ErrNothingToRedo)) {
			cliErr.Suggestions = []string{CommonSuggestions.CheckHistory}
		}
		return err
	}
	return cli.output(cmd.OutOrStdout(), cli.resultOf(doc, fmt.Sprintf("%s: %s", verb, info.Description), nil))
}

func (cli *CLI) addHistoryCommand() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the undo and redo stacks",
		Long: `Show the undo and redo stacks, next step first. ITEMS counts the undo and
redo items recorded for each step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := cli.view(cmd.Context(), "show history")
			if err != nil {
				return err
			}
			return cli.output(cmd.OutOrStdout(), historyOf(doc.History()))
		},
	}
	cli.rootCmd.AddCommand(cmd)
}
