package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"questionbank"

	"golang.org/x/sync/errgroup"
)

const usage = `usage: questionbank [global flags] <command> [flags]

commands:
  import     import v1.6/v1.7 CSV files
  generate   generate a batch of questions
  translate  fill missing translations of accepted questions
  critique   ask the model to review stored questions by id
  export     write questions as v1.6 CSV
  quota      show quota status for a discipline
  suggest    print the least filled category

global flags:
`

type app struct {
	cfg     *questionbank.Config
	db      *questionbank.DB
	store   *questionbank.QuestionStore
	tracker *questionbank.QuotaTracker
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		dbPath     = flag.String("db", "", "sqlite database path (overrides config)")
		apiKey     = flag.String("api-key", "", "API key (or set GEMINI_API_KEY / OPENAI_API_KEY)")
		creator    = flag.String("creator", "", "creator name stamped on new questions")
		verbose    = flag.Bool("verbose", false, "Enable verbose debugging output")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := questionbank.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *apiKey != "" {
		cfg.Generator.APIKey = *apiKey
	}
	if *creator != "" {
		cfg.Session.CreatorName = *creator
	}

	logger := questionbank.NewLogger(cfg.LogConfig())
	defer logger.Sync()
	questionbank.SetLogger(logger)
	questionbank.SetVerbose(*verbose || cfg.Log.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.db.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "import":
		err = a.runImport(ctx, args)
	case "generate":
		err = a.runGenerate(ctx, args)
	case "translate":
		err = a.runTranslate(ctx, args)
	case "critique":
		err = a.runCritique(ctx, args)
	case "export":
		err = a.runExport(args)
	case "quota":
		err = a.runQuota(args)
	case "suggest":
		err = a.runSuggest(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func newApp(ctx context.Context, cfg *questionbank.Config) (*app, error) {
	db, err := questionbank.OpenDB(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.CreateTables(); err != nil {
		db.Close()
		return nil, err
	}

	store := questionbank.NewQuestionStore(db.SaveQuestions, nil)
	n, err := db.LoadInto(ctx, store)
	if err != nil {
		db.Close()
		return nil, err
	}
	questionbank.VerboseLog("Loaded %d questions from %s", n, cfg.Database.Path)

	return &app{
		cfg:     cfg,
		db:      db,
		store:   store,
		tracker: questionbank.NewQuotaTracker(cfg.Quota),
	}, nil
}

func (a *app) client() (*questionbank.Client, error) {
	if a.cfg.Generator.APIKey == "" {
		return nil, errors.New("API key is required. Use -api-key or set GEMINI_API_KEY")
	}
	return questionbank.NewClient(a.cfg.ClientConfig(), questionbank.NewThrottle(), nil), nil
}

type parsedFile struct {
	name      string
	rows      []questionbank.ParsedRow
	questions []questionbank.Question
}

// runImport parses files concurrently and merges them in argument order
func (a *app) runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	partition := fs.String("partition", string(questionbank.PartitionHistorical), "target partition (session or historical)")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("no CSV files given")
	}
	target, err := questionbank.ParsePartition(*partition)
	if err != nil {
		return err
	}

	files := make([]parsedFile, fs.NArg())
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range fs.Args() {
		i, path := i, path
		g.Go(func() error {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			rows := questionbank.ParseCSVRows(string(content), filepath.Base(path), a.cfg.Session.CreatorName)
			pf := parsedFile{name: path, rows: rows}
			for _, row := range rows {
				if row.OK() {
					pf.questions = append(pf.questions, *row.Question)
				}
			}
			files[i] = pf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range files {
		if len(f.questions) == 0 {
			log.Printf("%s: no questions found (unrecognized header or empty file)", f.name)
			continue
		}
		res := a.store.Add(ctx, f.questions, target)
		log.Printf("%s: %d imported, %d duplicates, %d rows skipped",
			f.name, len(res.Merged), len(res.Duplicates), len(f.rows)-len(f.questions))
		if res.SaveErr != nil {
			log.Printf("%s: save failed: %v", f.name, res.SaveErr)
		}
	}
	return nil
}

func (a *app) runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		discipline = fs.String("discipline", a.cfg.Session.Discipline, "discipline")
		difficulty = fs.String("difficulty", "Easy", "Easy, Medium, Hard or \"Balanced All\"")
		genType    = fs.String("type", "balanced", "mc, tf or balanced")
		batch      = fs.Int("batch", 6, "requested batch size")
		sourceFile = fs.String("source", "", "file with source material")
		rules      = fs.String("rules", "", "additional generation rules")
	)
	fs.Parse(args)

	client, err := a.client()
	if err != nil {
		return err
	}

	req := questionbank.GenerationRequest{
		Discipline:  *discipline,
		Difficulty:  *difficulty,
		Type:        questionbank.ParseGenerationType(*genType),
		BatchSize:   *batch,
		CustomRules: *rules,
	}
	if *sourceFile != "" {
		content, err := os.ReadFile(*sourceFile)
		if err != nil {
			return fmt.Errorf("failed to read source material: %w", err)
		}
		req.SourceMaterial = string(content)
	}

	gen := questionbank.NewQuestionGenerator(client, a.store, a.tracker, questionbank.GeneratorOptions{
		Session:     a.cfg.Session,
		Temperature: a.cfg.Generator.Temperature,
		LLMLogDir:   a.cfg.Log.LLMDir,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	result, err := gen.GenerateBatch(ctx, req)
	if err != nil {
		var exhausted *questionbank.RateLimitExhaustedError
		if errors.As(err, &exhausted) {
			return fmt.Errorf("%w (try again in %s)", err, exhausted.Wait.Round(time.Second))
		}
		return err
	}
	if !result.Decision.Allowed {
		log.Printf("Generation not allowed: %s", result.Decision.Reason)
		return nil
	}
	return printJSON(result)
}

func (a *app) runTranslate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	langs := fs.String("languages", strings.Join(a.cfg.Translation.Targets, ","), "comma separated target languages")
	dryRun := fs.Bool("dry-run", false, "only list missing translations")
	fs.Parse(args)

	var targets []string
	for _, l := range strings.Split(*langs, ",") {
		if l = strings.TrimSpace(l); l != "" {
			targets = append(targets, l)
		}
	}

	var gen questionbank.TextGenerator
	if !*dryRun {
		client, err := a.client()
		if err != nil {
			return err
		}
		gen = client
	}
	translator := questionbank.NewTranslator(gen, a.store, targets, a.cfg.Translation.Temperature)

	if *dryRun {
		for _, job := range translator.MissingTranslations() {
			fmt.Printf("%s\t%s\t%s\n", job.Question.UniqueID, job.TargetLang, job.Question.Question)
		}
		return nil
	}

	summary, err := translator.TranslateMissing(ctx, func(p questionbank.TranslationProgress) {
		status := "ok"
		if p.Err != nil {
			status = p.Err.Error()
		}
		log.Printf("[%3d%%] %d/%d %s -> %s: %s", p.Percent, p.Done, p.Total, p.UniqueID, p.Language, status)
	})
	if err != nil {
		return err
	}
	log.Printf("Bulk translation complete: %d generated, %d failed of %d", summary.Generated, summary.Failed, summary.Queued)
	return nil
}

func (a *app) runCritique(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("critique", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("no question ids given")
	}

	client, err := a.client()
	if err != nil {
		return err
	}
	critic := questionbank.NewCritic(client, a.store)

	for _, id := range fs.Args() {
		c, err := critic.Critique(ctx, id)
		if err != nil {
			return err
		}
		q, _ := a.store.Get(id)
		partition, _ := a.store.PartitionOf(id)
		if err := a.db.SaveQuestions(ctx, partition, []questionbank.Question{q}); err != nil {
			log.Printf("%s: failed to save critique: %v", id, err)
		}
		if err := printJSON(c); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var (
		output    = fs.String("output", "", "output file (default: stdout)")
		partition = fs.String("partition", "all", "all, session or historical")
		language  = fs.String("language", "", "only export this language")
	)
	fs.Parse(args)

	questions := a.store.All()
	if *partition != "all" {
		p, err := questionbank.ParsePartition(*partition)
		if err != nil {
			return err
		}
		questions = a.store.Questions(p)
	}
	if *language != "" {
		lang := questionbank.NormalizeLanguage(*language)
		filtered := questions[:0:0]
		for _, q := range questions {
			if q.Language == lang {
				filtered = append(filtered, q)
			}
		}
		questions = filtered
	}

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := questionbank.WriteCSV(w, questions); err != nil {
		return err
	}
	if *output != "" {
		log.Printf("Exported %d questions to %s", len(questions), *output)
	}
	return nil
}

func (a *app) runQuota(args []string) error {
	fs := flag.NewFlagSet("quota", flag.ExitOnError)
	discipline := fs.String("discipline", a.cfg.Session.Discipline, "discipline")
	fs.Parse(args)

	counts := a.tracker.CountsByCategory(a.store, *discipline)
	status := a.tracker.Status(counts)

	fmt.Printf("Discipline: %s\n", *discipline)
	for _, cat := range append(questionbank.Categories, questionbank.TotalKey) {
		s := status[cat]
		mark := ""
		if s.Full {
			mark = " (full)"
		}
		fmt.Printf("  %-11s %3d/%-3d %3d%%%s\n", cat, s.Current, s.Target, s.Percentage, mark)
	}
	for _, d := range append(append([]string(nil), questionbank.Difficulties...), questionbank.DifficultyBalancedAll) {
		fmt.Printf("  max batch %-12s %d\n", d+":", a.tracker.MaxAllowedBatch(d, counts))
	}
	return nil
}

func (a *app) runSuggest(args []string) error {
	fs := flag.NewFlagSet("suggest", flag.ExitOnError)
	discipline := fs.String("discipline", a.cfg.Session.Discipline, "discipline")
	fs.Parse(args)

	counts := a.tracker.CountsByCategory(a.store, *discipline)
	cat, ok := a.tracker.SuggestCategory(counts)
	if !ok {
		fmt.Println("All categories are full.")
		return nil
	}
	fmt.Println(cat)
	return nil
}

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
