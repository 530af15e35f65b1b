package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/phroun/trellis"
)

const ReplVersion = "0.1.0"

// REPL holds the state of the interactive session
type REPL struct {
	docs    []*trellis.Doc
	current int
	reader  *bufio.Reader
	prompt  bool

	// read by the event delivery goroutines
	events atomic.Bool
}

func main() {
	usage := `Trellis REPL - interactive replicas of one document.

Usage:
    trellis-repl [--peers=<peers>] [--load=<file>] [--events]
    trellis-repl -h | --help
    trellis-repl --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --peers=<peers>    Number of replicas [default: 2].
    --load=<file>      Import a snapshot or update into every replica.
    --events           Print event batches as they are delivered.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ReplVersion)
	if err != nil {
		panic(err)
	}
	peers, err := opts.Int("--peers")
	if err != nil || peers < 1 {
		fmt.Printf("Invalid --peers value\n")
		os.Exit(2)
	}
	events, _ := opts.Bool("--events")

	repl := &REPL{
		reader: bufio.NewReader(os.Stdin),
		prompt: term.IsTerminal(int(os.Stdin.Fd())),
	}
	repl.events.Store(events)
	for i := 0; i < peers; i++ {
		peer := trellis.PeerID(i + 1)
		doc, err := trellis.New(trellis.DocOptions{PeerID: &peer, Name: fmt.Sprintf("replica-%d", i)})
		if err != nil {
			fmt.Printf("Error creating replica: %v\n", err)
			os.Exit(1)
		}
		repl.watch(i, doc)
		repl.docs = append(repl.docs, doc)
	}

	if path, _ := opts.String("--load"); path != "" {
		repl.cmdLoad([]string{path})
	}

	if repl.prompt {
		fmt.Println("Trellis REPL - replicated document demo")
		fmt.Println("Type 'help' for available commands, 'quit' to exit")
		fmt.Println()
	}

	for {
		if repl.prompt {
			fmt.Printf("trellis[%d]> ", repl.current)
		}
		input, err := repl.reader.ReadString('\n')
		if err != nil {
			break
		}

		input = strings.TrimSpace(input)
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}

		if !repl.handleCommand(input) {
			break
		}
	}

	for _, doc := range repl.docs {
		doc.Close()
	}
}

func (r *REPL) watch(i int, doc *trellis.Doc) {
	doc.Subscribe(func(b *trellis.EventBatch) {
		if !r.events.Load() {
			return
		}
		for _, e := range b.Events {
			fmt.Printf("  [%d] %s %s %s: %s\n", i, b.By, e.Path, e.Target, describeDiff(e.Diff))
		}
	})
}

func (r *REPL) doc() *trellis.Doc {
	return r.docs[r.current]
}

func (r *REPL) handleCommand(input string) bool {
	cmd, rest, _ := strings.Cut(input, " ")
	cmd = strings.ToLower(cmd)
	args := strings.Fields(rest)

	switch cmd {
	case "help":
		r.printHelp()

	case "quit", "exit":
		return false

	case "use":
		r.cmdUse(args)

	case "insert":
		r.cmdInsert(rest)

	case "delete":
		r.cmdDelete(args)

	case "set":
		r.cmdSet(args)

	case "unset":
		r.cmdUnset(args)

	case "push":
		r.cmdPush(args)

	case "commit":
		r.cmdCommit(rest)

	case "sync":
		r.cmdSync(args)

	case "syncall":
		r.cmdSyncAll()

	case "show":
		r.cmdShow()

	case "status":
		r.cmdStatus()

	case "history":
		r.cmdHistory()

	case "checkout":
		r.cmdCheckout(args)

	case "attach":
		r.report(r.doc().Attach())

	case "save":
		r.cmdSave(args)

	case "events":
		r.cmdEvents(args)

	case "load":
		r.cmdLoad(args)

	default:
		fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", cmd)
	}

	r.doc().Flush()
	return true
}

func (r *REPL) printHelp() {
	help := `
Available Commands:
-------------------

REPLICAS:
  use <n>                 Switch the current replica
  sync <from> <to>        Send the changes <to> is missing from <from>
  syncall                 Exchange changes between every pair of replicas

EDITS (current replica, buffered until commit):
  insert <pos> <text>     Insert text at a character position of "text"
  delete <pos> <n>        Delete n characters of "text"
  set <key> <value>       Set a key of the map "map"
  unset <key>             Delete a key of the map "map"
  push <value>            Append to the list "list"
  commit [message]        Commit the buffered edits

VERSIONS:
  history                 List committed changes
  checkout <id> [...]     Show the version at the given op ids (counter@peer)
  attach                  Return to the latest version

INSPECTION:
  show                    Print the document as JSON
  status                  Show version vectors and frontiers

FILES:
  save <file>             Write a snapshot of the current replica
  load <file>             Import a snapshot or update into every replica

OTHER:
  events on|off           Print event batches as they are delivered
  help                    Show this help message
  quit, exit              Exit the REPL
`
	fmt.Println(help)
}

func (r *REPL) report(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func (r *REPL) cmdEvents(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Println("Usage: events on|off")
		return
	}
	r.events.Store(args[0] == "on")
	fmt.Printf("Event printing %s\n", args[0])
}

func (r *REPL) cmdUse(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: use <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n >= len(r.docs) {
		fmt.Printf("Replica must be between 0 and %d\n", len(r.docs)-1)
		return
	}
	r.current = n
}

func (r *REPL) cmdInsert(rest string) {
	posStr, text, ok := strings.Cut(rest, " ")
	pos, err := strconv.Atoi(posStr)
	if !ok || err != nil {
		fmt.Println("Usage: insert <pos> <text>")
		return
	}
	r.report(r.doc().GetText("text").Insert(pos, text))
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: delete <pos> <n>")
		return
	}
	pos, err1 := strconv.Atoi(args[0])
	n, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		fmt.Println("Usage: delete <pos> <n>")
		return
	}
	r.report(r.doc().GetText("text").Delete(pos, n))
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: set <key> <value>")
		return
	}
	r.report(r.doc().GetMap("map").Set(args[0], parseValue(strings.Join(args[1:], " "))))
}

func (r *REPL) cmdUnset(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: unset <key>")
		return
	}
	r.report(r.doc().GetMap("map").Delete(args[0]))
}

func (r *REPL) cmdPush(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: push <value>")
		return
	}
	r.report(r.doc().GetList("list").Push(parseValue(strings.Join(args, " "))))
}

func (r *REPL) cmdCommit(message string) {
	meta, err := r.doc().CommitWith(trellis.CommitOptions{Message: strings.TrimSpace(message)})
	if err != nil {
		r.report(err)
		return
	}
	if meta == nil {
		fmt.Println("Nothing to commit")
		return
	}
	fmt.Printf("Committed %s (%d ops, lamport %d)\n", meta.ID, meta.Len, meta.Lamport)
}

func (r *REPL) cmdSync(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: sync <from> <to>")
		return
	}
	from, err1 := strconv.Atoi(args[0])
	to, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || from < 0 || to < 0 || from >= len(r.docs) || to >= len(r.docs) {
		fmt.Printf("Replicas must be between 0 and %d\n", len(r.docs)-1)
		return
	}
	r.sync(from, to)
}

func (r *REPL) sync(from, to int) {
	update, err := r.docs[from].ExportFrom(r.docs[to].OplogVV())
	if err != nil {
		r.report(err)
		return
	}
	status, err := r.docs[to].ImportWith(update, fmt.Sprintf("replica-%d", from))
	if err != nil {
		r.report(err)
		return
	}
	r.docs[to].Flush()
	if !status.Pending.IsEmpty() {
		fmt.Printf("Replica %d has pending changes: %v\n", to, status.Pending)
	}
}

func (r *REPL) cmdSyncAll() {
	for i := range r.docs {
		for j := range r.docs {
			if i != j {
				r.sync(i, j)
			}
		}
	}
}

func (r *REPL) cmdShow() {
	b, err := r.doc().ToJSON()
	if err != nil {
		r.report(err)
		return
	}
	fmt.Println(string(b))
}

func (r *REPL) cmdStatus() {
	doc := r.doc()
	fmt.Printf("Replica %d (peer %s)\n", r.current, doc.PeerID())
	fmt.Printf("  Oplog VV:        %s\n", doc.OplogVV())
	fmt.Printf("  Oplog frontiers: %s\n", doc.OplogFrontiers())
	fmt.Printf("  State frontiers: %s\n", doc.StateFrontiers())
	fmt.Printf("  Detached:        %v\n", doc.IsDetached())
}

func (r *REPL) cmdHistory() {
	changes := r.doc().Changes()
	if len(changes) == 0 {
		fmt.Println("No changes")
		return
	}
	for _, c := range changes {
		line := fmt.Sprintf("  %-8s lamport=%-4d len=%-4d deps=%s", c.ID, c.Lamport, c.Len, c.Deps)
		if c.Message != "" {
			line += " " + strconv.Quote(c.Message)
		}
		fmt.Println(line)
	}
}

func (r *REPL) cmdCheckout(args []string) {
	var ids []trellis.ID
	for _, arg := range args {
		id, err := trellis.ParseID(arg)
		if err != nil {
			r.report(err)
			return
		}
		ids = append(ids, id)
	}
	r.report(r.doc().Checkout(trellis.NewFrontiers(ids...)))
}

func (r *REPL) cmdSave(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: save <file>")
		return
	}
	b, err := r.doc().ExportSnapshot()
	if err != nil {
		r.report(err)
		return
	}
	if err := os.WriteFile(args[0], b, 0o644); err != nil {
		r.report(err)
		return
	}
	fmt.Printf("Wrote %d bytes\n", len(b))
}

func (r *REPL) cmdLoad(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: load <file>")
		return
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		r.report(err)
		return
	}
	for _, doc := range r.docs {
		if _, err := doc.Import(b); err != nil {
			r.report(err)
			return
		}
	}
}

// parseValue reads integers, floats, booleans and null; anything else is
// a string.
func parseValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return s
}

func describeDiff(d trellis.Diff) string {
	switch x := d.(type) {
	case *trellis.TextDiff:
		parts := make([]string, 0, len(x.Ops))
		for _, op := range x.Ops {
			switch {
			case op.Retain > 0:
				parts = append(parts, fmt.Sprintf("retain %d", op.Retain))
			case op.Delete > 0:
				parts = append(parts, fmt.Sprintf("delete %d", op.Delete))
			default:
				parts = append(parts, "insert "+strconv.Quote(op.Insert))
			}
		}
		return strings.Join(parts, ", ")
	case *trellis.ListDiff:
		parts := make([]string, 0, len(x.Ops))
		for _, op := range x.Ops {
			switch {
			case op.Retain > 0:
				parts = append(parts, fmt.Sprintf("retain %d", op.Retain))
			case op.Delete > 0:
				parts = append(parts, fmt.Sprintf("delete %d", op.Delete))
			default:
				parts = append(parts, fmt.Sprintf("insert %v", op.Insert))
			}
		}
		return strings.Join(parts, ", ")
	case *trellis.MapDiff:
		return fmt.Sprintf("%v", x.Updated)
	case *trellis.TreeDiff:
		parts := make([]string, 0, len(x.Items))
		for _, item := range x.Items {
			parts = append(parts, fmt.Sprintf("%s %s", item.Action, item.Target))
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
