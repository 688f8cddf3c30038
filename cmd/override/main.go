package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/swarm-conductor/internal/steps"
	"github.com/danielpatrickdp/swarm-conductor/internal/store"
)

// #region main

// override flips a blocked gate decision to approved under an explicit,
// attributed authority. The only path around the risk gate.
func main() {
	dbPath := flag.String("db", "swarm_runs.db", "path to the run store")
	runKey := flag.String("run", "", "run key to override")
	authority := flag.String("authority", "", "who is taking responsibility for the override")
	flag.Parse()

	if *runKey == "" || *authority == "" {
		fmt.Fprintln(os.Stderr, "usage: override --db swarm_runs.db --run 2026-01-05 --authority name")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	pipe := &steps.Pipeline{Store: st}
	d, err := pipe.ApplyOverride(*runKey, *authority)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if d.OverrideApplied {
		fmt.Printf("Run %s overridden by %s: effective action %s\n", *runKey, *authority, d.EffectiveAction)
	} else {
		fmt.Printf("Run %s was already approved; attribution recorded for %s\n", *runKey, *authority)
	}
}

// #endregion main
