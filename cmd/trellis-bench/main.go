// trellis-bench is a benchmark and stress test for the trellis library.
// It drives several replicas through edits, syncs, checkouts and event
// delivery and reports throughput.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/oklog/ulid/v2"

	"github.com/phroun/trellis"
)

const BenchVersion = "0.1.0"

type BenchResult struct {
	Name     string
	Duration time.Duration
	Ops      int
	Extra    string
}

func (r BenchResult) String() string {
	if r.Ops > 0 {
		opsPerSec := float64(r.Ops) / r.Duration.Seconds()
		if r.Extra != "" {
			return fmt.Sprintf("%-40s %12v  (%d ops, %.2f ops/sec) %s", r.Name, r.Duration.Round(time.Millisecond), r.Ops, opsPerSec, r.Extra)
		}
		return fmt.Sprintf("%-40s %12v  (%d ops, %.2f ops/sec)", r.Name, r.Duration.Round(time.Millisecond), r.Ops, opsPerSec)
	}
	if r.Extra != "" {
		return fmt.Sprintf("%-40s %12v  %s", r.Name, r.Duration.Round(time.Millisecond), r.Extra)
	}
	return fmt.Sprintf("%-40s %12v", r.Name, r.Duration.Round(time.Millisecond))
}

type config struct {
	ops      int
	replicas int
	seed     int64
}

func main() {
	usage := `Trellis benchmark and stress test.

Usage:
    trellis-bench [--ops=<ops>] [--replicas=<replicas>] [--seed=<seed>]
    trellis-bench -h | --help
    trellis-bench --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --ops=<ops>            Edits per benchmark [default: 10000].
    --replicas=<replicas>  Replicas in the sync benchmark [default: 4].
    --seed=<seed>          Random seed [default: 1].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BenchVersion)
	if err != nil {
		panic(err)
	}
	var cfg config
	cfg.ops, err = opts.Int("--ops")
	if err != nil || cfg.ops < 1 {
		fmt.Println("Invalid --ops value")
		os.Exit(2)
	}
	cfg.replicas, err = opts.Int("--replicas")
	if err != nil || cfg.replicas < 2 {
		fmt.Println("Invalid --replicas value, need at least 2")
		os.Exit(2)
	}
	seed, err := opts.Int("--seed")
	if err != nil {
		fmt.Println("Invalid --seed value")
		os.Exit(2)
	}
	cfg.seed = int64(seed)

	runID := ulid.Make()
	fmt.Println("Trellis Benchmark and Stress Test")
	fmt.Println("=================================")
	fmt.Printf("Run: %s\n", runID)
	fmt.Printf("Ops: %d, replicas: %d, seed: %d\n", cfg.ops, cfg.replicas, cfg.seed)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	var results []BenchResult
	runBench := func(name string, fn func() BenchResult) {
		fmt.Printf("  %-40s ", name+"...")
		result := fn()
		fmt.Printf("%v\n", result.Duration.Round(time.Millisecond))
		results = append(results, result)
	}

	fmt.Println("Local edits:")
	runBench("Text inserts, one commit each", func() BenchResult { return benchTextInserts(cfg, 1) })
	runBench("Text inserts, 100 per commit", func() BenchResult { return benchTextInserts(cfg, 100) })
	runBench("Map sets", func() BenchResult { return benchMapSets(cfg) })
	runBench("Tree creates and moves", func() BenchResult { return benchTree(cfg) })

	fmt.Println("\nReplication:")
	runBench("Concurrent edits with sync", func() BenchResult { return benchSync(cfg) })
	runBench("Snapshot export and load", func() BenchResult { return benchSnapshot(cfg) })

	fmt.Println("\nVersions:")
	runBench("Checkout round trips", func() BenchResult { return benchCheckout(cfg) })

	fmt.Println("\nEvents:")
	runBench("Event delivery", func() BenchResult { return benchEvents(cfg) })

	fmt.Println("\n" + "=")
	fmt.Println("SUMMARY")
	fmt.Println("=")
	for _, r := range results {
		fmt.Println(r)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Println()
	fmt.Printf("Peak heap allocation: %d MB\n", m.HeapSys/(1024*1024))
	fmt.Printf("Total allocations: %d MB\n", m.TotalAlloc/(1024*1024))
}

func newDoc(peer trellis.PeerID) *trellis.Doc {
	doc, err := trellis.New(trellis.DocOptions{PeerID: &peer})
	if err != nil {
		panic(err)
	}
	return doc
}

func failed(name string, start time.Time, err error) BenchResult {
	return BenchResult{Name: name, Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
}

func benchTextInserts(cfg config, perCommit int) BenchResult {
	name := fmt.Sprintf("Text inserts (%d per commit)", perCommit)
	rng := rand.New(rand.NewSource(cfg.seed))
	doc := newDoc(1)
	defer doc.Close()
	text := doc.GetText("text")

	start := time.Now()
	length := 0
	for i := 0; i < cfg.ops; i++ {
		if err := text.Insert(rng.Intn(length+1), "x"); err != nil {
			return failed(name, start, err)
		}
		length++
		if (i+1)%perCommit == 0 {
			if _, err := doc.Commit(); err != nil {
				return failed(name, start, err)
			}
		}
	}
	if _, err := doc.Commit(); err != nil {
		return failed(name, start, err)
	}
	return BenchResult{
		Name:     name,
		Duration: time.Since(start),
		Ops:      cfg.ops,
		Extra:    fmt.Sprintf("%d changes", len(doc.Changes())),
	}
}

func benchMapSets(cfg config) BenchResult {
	name := "Map sets"
	rng := rand.New(rand.NewSource(cfg.seed))
	doc := newDoc(1)
	defer doc.Close()
	m := doc.GetMap("map")

	start := time.Now()
	for i := 0; i < cfg.ops; i++ {
		if err := m.Set(fmt.Sprintf("key-%d", rng.Intn(100)), i); err != nil {
			return failed(name, start, err)
		}
		if i%10 == 9 {
			doc.Commit()
		}
	}
	doc.Commit()
	return BenchResult{Name: name, Duration: time.Since(start), Ops: cfg.ops, Extra: fmt.Sprintf("%d keys", m.Len())}
}

func benchTree(cfg config) BenchResult {
	name := "Tree creates and moves"
	rng := rand.New(rand.NewSource(cfg.seed))
	doc := newDoc(1)
	defer doc.Close()
	tree := doc.GetTree("tree")

	n := min(cfg.ops, 2000)
	start := time.Now()
	var nodes []trellis.TreeID
	for i := 0; i < n; i++ {
		var parent *trellis.TreeID
		if len(nodes) > 0 && rng.Intn(2) == 0 {
			p := nodes[rng.Intn(len(nodes))]
			parent = &p
		}
		id, err := tree.Create(parent)
		if err != nil {
			return failed(name, start, err)
		}
		nodes = append(nodes, id)
	}
	doc.Commit()
	moved := 0
	for i := 0; i < n; i++ {
		target := nodes[rng.Intn(len(nodes))]
		parent := nodes[rng.Intn(len(nodes))]
		if err := tree.Move(target, &parent); err == nil {
			moved++
		}
		if i%10 == 9 {
			doc.Commit()
		}
	}
	doc.Commit()
	return BenchResult{
		Name:     name,
		Duration: time.Since(start),
		Ops:      2 * n,
		Extra:    fmt.Sprintf("%d moves applied", moved),
	}
}

func benchSync(cfg config) BenchResult {
	name := "Concurrent edits with sync"
	rng := rand.New(rand.NewSource(cfg.seed))
	docs := make([]*trellis.Doc, cfg.replicas)
	for i := range docs {
		docs[i] = newDoc(trellis.PeerID(i + 1))
		defer docs[i].Close()
	}

	start := time.Now()
	for i := 0; i < cfg.ops; i++ {
		doc := docs[rng.Intn(len(docs))]
		text := doc.GetText("text")
		if err := text.Insert(rng.Intn(text.Len()+1), string(rune('a'+i%26))); err != nil {
			return failed(name, start, err)
		}
		doc.Commit()

		if i%50 == 49 {
			from, to := docs[rng.Intn(len(docs))], docs[rng.Intn(len(docs))]
			update, err := from.ExportFrom(to.OplogVV())
			if err != nil {
				return failed(name, start, err)
			}
			if _, err := to.Import(update); err != nil {
				return failed(name, start, err)
			}
		}
	}

	// converge
	for _, from := range docs {
		for _, to := range docs {
			update, _ := from.ExportFrom(to.OplogVV())
			to.Import(update)
		}
	}
	want := docs[0].GetText("text").String()
	for i, doc := range docs {
		if doc.GetText("text").String() != want {
			return failed(name, start, fmt.Errorf("replica %d diverged", i))
		}
	}
	return BenchResult{Name: name, Duration: time.Since(start), Ops: cfg.ops, Extra: fmt.Sprintf("%d chars", len([]rune(want)))}
}

func benchSnapshot(cfg config) BenchResult {
	name := "Snapshot export and load"
	doc := newDoc(1)
	defer doc.Close()
	text := doc.GetText("text")
	for i := 0; i < cfg.ops; i++ {
		text.Insert(i, "y")
		if i%100 == 99 {
			doc.Commit()
		}
	}
	doc.Commit()

	start := time.Now()
	snapshot, err := doc.ExportSnapshot()
	if err != nil {
		return failed(name, start, err)
	}
	loaded, err := trellis.FromSnapshot(snapshot)
	if err != nil {
		return failed(name, start, err)
	}
	defer loaded.Close()
	if loaded.GetText("text").Len() != cfg.ops {
		return failed(name, start, fmt.Errorf("loaded %d chars", loaded.GetText("text").Len()))
	}
	return BenchResult{Name: name, Duration: time.Since(start), Extra: fmt.Sprintf("%d KB", len(snapshot)/1024)}
}

func benchCheckout(cfg config) BenchResult {
	name := "Checkout round trips"
	doc := newDoc(1)
	defer doc.Close()
	text := doc.GetText("text")
	var versions []trellis.Frontiers
	for i := 0; i < cfg.ops; i++ {
		text.Insert(i, "z")
		if i%100 == 99 {
			doc.Commit()
			versions = append(versions, doc.OplogFrontiers())
		}
	}
	doc.Commit()

	n := min(len(versions), 100)
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := doc.Checkout(versions[i*len(versions)/max(n, 1)]); err != nil {
			return failed(name, start, err)
		}
		if err := doc.CheckoutToLatest(); err != nil {
			return failed(name, start, err)
		}
	}
	return BenchResult{Name: name, Duration: time.Since(start), Ops: 2 * n}
}

func benchEvents(cfg config) BenchResult {
	name := "Event delivery"
	doc := newDoc(1)
	defer doc.Close()
	delivered := 0
	doc.Subscribe(func(b *trellis.EventBatch) {
		delivered += len(b.Events)
	})
	list := doc.GetList("list")

	start := time.Now()
	for i := 0; i < cfg.ops; i++ {
		list.Push(i)
		doc.Commit()
	}
	doc.Flush()
	return BenchResult{Name: name, Duration: time.Since(start), Ops: cfg.ops, Extra: fmt.Sprintf("%d events", delivered)}
}
