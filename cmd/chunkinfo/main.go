// Command chunkinfo prints a summary of every chunk stored in a world save,
// along with the block state palette the save references.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/basalt-mc/basalt/server/world"
	"github.com/basalt-mc/basalt/server/world/mcdb"
)

func main() {
	dir := flag.String("world", "world", "path to the world save to inspect")
	states := flag.Bool("states", false, "print the block state palette of the save")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	blocks := growRegistry{Registry: world.NewRegistry()}
	db, err := mcdb.Config{Log: log, Blocks: blocks, ReadOnly: true}.Open(*dir)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	defer db.Close()

	var chunks, total int
	err = db.All(func(pos world.ChunkPos, c *world.Chunk) bool {
		rids, custom := c.BlockData()
		distinct := make(map[uint32]struct{})
		count := 0
		for _, rid := range rids {
			if rid == world.AirRID {
				continue
			}
			count++
			distinct[rid] = struct{}{}
		}
		fmt.Printf("chunk %v,%v: %v blocks, %v states, %v custom\n", pos[0], pos[1], count, len(distinct), len(custom))
		chunks++
		total += count
		return true
	})
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	fmt.Printf("%v chunks, %v blocks, %v block states referenced\n", chunks, total, blocks.Count())

	if *states {
		for rid := uint32(0); int(rid) < blocks.Count(); rid++ {
			s, _ := blocks.State(rid)
			fmt.Printf("%4d %v %v\n", rid, s.Name, s.Properties)
		}
	}
}

// growRegistry is a StateRegistry that registers any state it has not seen
// before instead of reporting it unknown, so the palettes of a save written
// with an arbitrary block registry resolve without recreating that registry.
type growRegistry struct {
	*world.Registry
}

// StateRuntimeID returns the runtime ID of the state passed, registering the
// state first if it was not registered yet.
func (g growRegistry) StateRuntimeID(s world.BlockState) (uint32, bool) {
	if rid, ok := g.Registry.StateRuntimeID(s); ok {
		return rid, true
	}
	return g.Registry.Register(s), true
}
