package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/analyze"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/config"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/keypool"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/llm"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/store"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

var (
	configPath    string
	checklistPath string
	risksPath     string
	perspective   string
	noCache       bool
	outputPath    string
	verbose       bool
	timeout       time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "contract-analyzer",
	Short: "Анализ договоров поставки с позиции покупателя или поставщика",
	Long: `contract-analyzer прогоняет текст договора поставки через постатейный
анализ: классификация пунктов по чек-листу, поиск пропущенных требований,
противоречий, дисбаланса прав сторон и структурных дефектов.

Результат выводится одним JSON-отчетом. Повторный анализ того же текста
отдается из локального кэша.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <contract.txt>",
	Short: "Проанализировать файл с текстом договора",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "путь к файлу конфигурации YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "подробное логирование")

	analyzeCmd.Flags().StringVar(&checklistPath, "checklist", "", "файл чек-листа обязательных требований")
	analyzeCmd.Flags().StringVar(&risksPath, "risks", "", "файл с перечнем типовых рисков")
	analyzeCmd.Flags().StringVar(&perspective, "perspective", "buyer", "сторона анализа: buyer или supplier")
	analyzeCmd.Flags().BoolVar(&noCache, "no-cache", false, "игнорировать кэш и анализировать заново")
	analyzeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "файл для записи отчета (по умолчанию stdout)")
	analyzeCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "общий таймаут анализа")

	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	// Keys are usually delivered through .env next to the binary.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Development); err != nil {
		return err
	}
	defer logging.Sync()

	contract, err := readInput(args[0])
	if err != nil {
		return err
	}
	checklist, err := readOptional(checklistPath, defaultChecklist)
	if err != nil {
		return err
	}
	if risksPath != "" {
		risks, err := os.ReadFile(risksPath)
		if err != nil {
			return fmt.Errorf("чтение файла рисков: %w", err)
		}
		checklist = checklist + "\n\nТИПОВЫЕ РИСКИ ДЛЯ ПРОВЕРКИ:\n" + string(risks)
	}

	persp := types.PerspectiveBuyer
	switch strings.ToLower(perspective) {
	case "buyer":
	case "supplier":
		persp = types.PerspectiveSupplier
	default:
		return fmt.Errorf("недопустимая сторона анализа %q: ожидается buyer или supplier", perspective)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	// The cache key covers everything that shapes the report.
	hash := store.Hash(contract + "\x00" + checklist + "\x00" + string(persp))
	if !noCache {
		if report, err := st.LoadByHash(hash); err == nil {
			fmt.Fprintln(os.Stderr, "Отчет найден в кэше.")
			return writeReport(report)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	pool, err := keypool.New(cfg.LLM.APIKeys)
	if err != nil {
		return fmt.Errorf("не заданы API-ключи: задайте ANALYZER_API_KEYS или llm.api_keys в конфигурации: %w", err)
	}
	client, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		return err
	}

	pipeline := analyze.New(client, pool, cfg.Pipeline, analyze.WithProgress(printProgress))
	report, err := pipeline.Analyze(ctx, contract, checklist, persp)
	if err != nil {
		return err
	}

	if _, err := st.Save(hash, report); err != nil {
		logging.Get(logging.CategoryStore).Warnw("report not cached", "error", err)
	}
	return writeReport(report)
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("чтение договора из stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("чтение файла договора: %w", err)
	}
	return string(data), nil
}

func readOptional(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("чтение чек-листа: %w", err)
	}
	return string(data), nil
}

func writeReport(report *types.AnalysisReport) error {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if outputPath == "" {
		fmt.Println(string(out))
		return nil
	}
	if err := os.WriteFile(outputPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("запись отчета: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Отчет записан в", outputPath)
	return nil
}

func printProgress(stage string, percent int) {
	if percent < 0 {
		fmt.Fprintf(os.Stderr, "  %s...\n", stage)
		return
	}
	fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", percent, stage)
}

const defaultChecklist = `- Предмет договора: наименование, количество и ассортимент товара
- Срок и порядок поставки товара
- Цена товара и порядок расчетов
- Порядок приемки товара по количеству и качеству
- Гарантийные обязательства поставщика
- Ответственность сторон за нарушение обязательств
- Порядок изменения и расторжения договора
- Порядок разрешения споров`
