package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianwm/structprod/internal/core/config"
	"github.com/meridianwm/structprod/internal/core/db"
	"github.com/meridianwm/structprod/internal/marketdata"
	"github.com/meridianwm/structprod/internal/payoff"
	"github.com/meridianwm/structprod/internal/repo"
	"github.com/meridianwm/structprod/internal/types"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [product-id]",
	Short: "Evaluate one product, or every product in the repository",
	Long: `Without arguments, evaluates every stored product concurrently and
prints one result line per product. Products are independent: a missing
close for one product fails that product only, never the batch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().String("as-of", "", "evaluation date YYYY-MM-DD (default today)")
	evaluateCmd.Flags().Bool("trace", false, "log every engine decision")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	ctx := context.Background()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	asOf := time.Now().UTC()
	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		asOf, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
		}
	}

	database, err := openFromFlags()
	if err != nil {
		return err
	}
	defer database.Close()

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	repository := repo.NewRepository(queries)
	prices := marketdata.NewSQLSource(queries)

	var trace payoff.TraceSink = payoff.NopTrace{}
	if traced, _ := cmd.Flags().GetBool("trace"); traced {
		trace = payoff.SlogTrace{Logger: logger}
	}

	if len(args) == 1 {
		id, err := types.ParseProductID(args[0])
		if err != nil {
			return fmt.Errorf("invalid product id %q: %w", args[0], err)
		}
		product, err := repository.Get(ctx, id)
		if err != nil {
			return err
		}
		result, err := payoff.EvaluateProduct(ctx, product, prices, asOf, trace)
		if err != nil {
			return fmt.Errorf("evaluation failed: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	products, err := repository.List(ctx)
	if err != nil {
		return err
	}
	return evaluateBatch(ctx, logger, products, prices, asOf, cfg.EvalWorkers, trace)
}

// batchOutcome is one product's result or failure within a batch run.
type batchOutcome struct {
	ProductID types.ProductID         `json:"product_id"`
	Result    *types.EvaluationResult `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// evaluateBatch fans products out over a fixed worker pool. Products are
// independent evaluations with their own fresh per-run state, so failure
// isolation is per product: one missing close marks that product failed
// and the batch continues.
func evaluateBatch(ctx context.Context, logger *slog.Logger, products []*types.Product, prices payoff.PriceLookup, asOf time.Time, workers int, trace payoff.TraceSink) error {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan *types.Product)
	outcomes := make(chan batchOutcome, len(products))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				result, err := payoff.EvaluateProduct(ctx, p, prices, asOf, trace)
				if err != nil {
					outcomes <- batchOutcome{ProductID: p.ID, Error: err.Error()}
					continue
				}
				outcomes <- batchOutcome{ProductID: p.ID, Result: result}
			}
		}()
	}

	for _, p := range products {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for outcome := range outcomes {
		if outcome.Error != "" {
			failed++
			logger.Warn("product evaluation failed", "product", outcome.ProductID, "err", outcome.Error)
		}
		if err := enc.Encode(outcome); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d products failed", failed, len(products))
	}
	return nil
}
