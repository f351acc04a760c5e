package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/basalt-mc/basalt/server"
	"github.com/basalt-mc/basalt/server/console"
	"github.com/basalt-mc/basalt/server/player/chat"
	"github.com/basalt-mc/basalt/server/query"
	"github.com/basalt-mc/basalt/server/world"
	"github.com/basalt-mc/basalt/server/world/generator"
	"github.com/basalt-mc/basalt/server/world/mcdb"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
	"github.com/sandertv/gophertunnel/minecraft"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	chat.Global.Subscribe(chat.StdoutSubscriber{})

	uc, err := readConfig()
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	conf, err := uc.Config(log)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	blocks := world.NewRegistry()
	pal := registerBlocks(blocks)
	gen, spawn := pickGenerator(uc, pal)
	conf.Spawn = spawn

	provider := world.Provider(world.NopProvider{})
	if uc.World.SaveData {
		db, err := mcdb.Config{Log: log, Blocks: blocks}.Open(uc.World.Folder)
		if err != nil {
			log.Error("open world provider: " + err.Error())
			os.Exit(1)
		}
		provider = db
	}
	w := world.Config{
		Log:       log,
		Name:      "world",
		Provider:  provider,
		Generator: gen,
		Blocks:    blocks,
	}.New()

	srv := conf.New()
	if err := srv.AddWorld(w); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	query.RegisterProvider(func(host string, port int) query.Data {
		sessions := srv.Sessions()
		names := make([]string, 0, len(sessions))
		for _, s := range sessions {
			names = append(names, s.Name())
		}
		return query.Data{
			ServerName:       srv.Name(),
			WorldName:        w.Name(),
			PlayerCount:      len(names),
			MaxPlayers:       uc.Players.MaxCount,
			PlayerNames:      names,
			WhitelistEnabled: uc.Whitelist.Enabled,
			HostIP:           host,
			HostPort:         port,
		}
	})

	l, err := minecraft.ListenConfig{
		StatusProvider:         minecraft.NewStatusProvider(srv.Name(), "basalt"),
		AuthenticationDisabled: !uc.Server.AuthEnabled,
	}.Listen("raknet", uc.Network.Address)
	if err != nil {
		log.Error("listen: " + err.Error())
		os.Exit(1)
	}
	log.Info("Server listening.", "address", l.Addr().String())

	// The listener unblocks Accept with an error once closed, which in turn
	// lets the loop below fall through to the server shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	go console.New(log).Run(ctx)

	for {
		c, err := l.Accept()
		if err != nil {
			break
		}
		go accept(srv, w, c.(*minecraft.Conn), spawn)
	}
	if err := srv.Close(); err != nil {
		log.Error("close server: " + err.Error())
	}
}

// accept runs the spawn sequence of a new connection and admits it to the
// server as a player. The connection is closed if either step fails.
func accept(srv *server.Server, w *world.World, conn *minecraft.Conn, spawn mgl64.Vec3) {
	if err := conn.StartGame(minecraft.GameData{
		WorldName:      srv.Name(),
		PlayerPosition: mgl32.Vec3{float32(spawn[0]), float32(spawn[1]), float32(spawn[2])},
		Dimension:      int32(w.Dimension().EncodeDimension()),
		Time:           w.Time(),
	}); err != nil {
		_ = conn.Close()
		return
	}
	identity := conn.IdentityData()
	id, err := uuid.Parse(identity.Identity)
	if err != nil {
		id = uuid.New()
	}
	// Join logs the reason itself when a player is turned away.
	_, _ = srv.Join(conn, identity.DisplayName, id)
}

// registered holds the runtime IDs of the block states the terrain
// generators build from.
type registered struct {
	bedrock, stone, dirt, grass, water uint32
}

// registerBlocks registers the vanilla block states the server generates
// terrain with and returns their runtime IDs.
func registerBlocks(blocks *world.Registry) registered {
	return registered{
		bedrock: blocks.Register(world.BlockState{Name: "minecraft:bedrock", Properties: map[string]any{"infiniburn_bit": false}, Version: world.CurrentBlockVersion}),
		stone:   blocks.Register(world.BlockState{Name: "minecraft:stone", Properties: map[string]any{"stone_type": "stone"}, Version: world.CurrentBlockVersion}),
		dirt:    blocks.Register(world.BlockState{Name: "minecraft:dirt", Properties: map[string]any{"dirt_type": "normal"}, Version: world.CurrentBlockVersion}),
		grass:   blocks.Register(world.BlockState{Name: "minecraft:grass_block", Version: world.CurrentBlockVersion}),
		water:   blocks.Register(world.BlockState{Name: "minecraft:water", Properties: map[string]any{"liquid_depth": int32(0)}, Version: world.CurrentBlockVersion}),
	}
}

// pickGenerator returns the terrain generator selected in the user
// configuration, along with a spawn position that sits above the terrain it
// produces.
func pickGenerator(uc server.UserConfig, pal registered) (world.Generator, mgl64.Vec3) {
	r := world.Overworld.Range()
	if uc.World.Generator == "flat" {
		// Four layers up from the bottom of the world, one above the grass.
		return generator.NewFlat(pal.bedrock, pal.dirt, pal.dirt, pal.grass), mgl64.Vec3{0.5, float64(r.Min() + 4), 0.5}
	}
	return generator.NewNoise(uc.World.Seed, generator.NoisePalette{
		Stone:   pal.stone,
		Dirt:    pal.dirt,
		Surface: pal.grass,
		Water:   pal.water,
	}), mgl64.Vec3{0.5, float64(r.Min()) + float64(r.Height())*0.4, 0.5}
}

// readConfig reads the configuration from the config.toml file, or creates
// the file with default values if it does not yet exist.
func readConfig() (server.UserConfig, error) {
	c := server.DefaultConfig()
	if _, err := os.Stat("config.toml"); errors.Is(err, os.ErrNotExist) {
		data, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if err := os.WriteFile("config.toml", data, 0644); err != nil {
			return c, fmt.Errorf("create default config: %w", err)
		}
		return c, nil
	}
	data, err := os.ReadFile("config.toml")
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}
