// Команда shardgen строит план или шард без REST-сервера.
//
//	shardgen -cmd plan -template normal-16 -name harbor -seed 1337
//	shardgen -cmd generate -template normal-32 -name isles -overrides @overrides.json
//	shardgen -cmd list
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/annel0/shard-engine/internal/app"
	"github.com/annel0/shard-engine/internal/config"
	"github.com/annel0/shard-engine/internal/engine"
	"github.com/annel0/shard-engine/internal/logging"
)

// Options - разобранные флаги командной строки
type Options struct {
	Command   string
	Template  string
	Name      string
	Seed      int // < 0 - вывести сид из имени
	AutoSeed  bool
	BiomePack string
	Overrides string // JSON или @путь к файлу
	Verbosity string
	Pretty    bool
}

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML конфигурации (по умолчанию SHARD_CONFIG)")
		command    = flag.String("cmd", "plan", "Команда: plan, generate, render, list, tiers")
		template   = flag.String("template", "normal-16", "id шаблона тира")
		name       = flag.String("name", "", "имя шарда")
		seed       = flag.Int("seed", -1, "сид 0..99999999; -1 - вывести из имени")
		autoSeed   = flag.Bool("auto-seed", true, "подбирать свободный сид по индексу")
		pack       = flag.String("pack", "", "биом-пак вместо указанного в шаблоне")
		overrides  = flag.String("overrides", "", "переопределения: JSON или @файл")
		verbosity  = flag.String("verbosity", "normal", "детализация плана: mini, normal, full")
		pretty     = flag.Bool("pretty", true, "форматировать JSON")
		logLevel   = flag.String("log-level", "WARN", "уровень логов в stderr")
	)
	flag.Parse()

	// stdout занят JSON-результатом
	logging.SetConsoleOutput(os.Stderr)
	logging.SetLogDir("")
	logging.SetDefaultLevel(logging.ParseLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	opts := Options{
		Command:   *command,
		Template:  *template,
		Name:      *name,
		Seed:      *seed,
		AutoSeed:  *autoSeed,
		BiomePack: *pack,
		Overrides: *overrides,
		Verbosity: *verbosity,
		Pretty:    *pretty,
	}
	if err := run(context.Background(), cfg, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "shardgen: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts Options, out io.Writer) error {
	components, err := app.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer components.Close()
	eng := components.Engine

	var result any
	switch opts.Command {
	case "plan":
		req, err := buildRequest(opts)
		if err != nil {
			return err
		}
		result, err = eng.Plan(ctx, req)
		if err != nil {
			return err
		}

	case "generate":
		req, err := buildRequest(opts)
		if err != nil {
			return err
		}
		result, err = eng.Generate(ctx, req)
		if err != nil {
			return err
		}

	case "render":
		req, err := buildRequest(opts)
		if err != nil {
			return err
		}
		result, err = eng.Render(ctx, req)
		if err != nil {
			return err
		}

	case "list":
		list, err := eng.Store().List()
		if err != nil {
			return err
		}
		result = list

	case "tiers":
		tiers, err := eng.Registry().ListTiers()
		if err != nil {
			return err
		}
		result = tiers

	default:
		return fmt.Errorf("неизвестная команда %q, доступны: plan, generate, render, list, tiers", opts.Command)
	}

	enc := json.NewEncoder(out)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

// buildRequest собирает запрос из флагов; проверку выполняет движок
func buildRequest(opts Options) (*engine.PlanRequest, error) {
	req := &engine.PlanRequest{
		TemplateID:    opts.Template,
		Name:          opts.Name,
		AutoSeed:      &opts.AutoSeed,
		BiomePack:     opts.BiomePack,
		PlanVerbosity: engine.Verbosity(opts.Verbosity),
	}
	if opts.Seed >= 0 {
		seed := opts.Seed
		req.Seed = &seed
	}

	raw := strings.TrimSpace(opts.Overrides)
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("чтение переопределений: %w", err)
		}
		raw = string(data)
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Overrides); err != nil {
			return nil, fmt.Errorf("разбор переопределений: %v: %w", err, engine.ErrInvalidRequest)
		}
	}
	return req, nil
}
