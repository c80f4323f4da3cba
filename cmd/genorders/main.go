// Command genorders publishes order commands to the Kafka topic the matching
// service consumes, either replayed from a CSV file or generated at random.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wuminzhe/matching/internal/config"
	"github.com/wuminzhe/matching/internal/domain"
	"github.com/wuminzhe/matching/internal/ingest"
	"github.com/wuminzhe/matching/internal/logging"
)

const batchSize = 100

func main() {
	envPath := flag.String("env", "", "path to .env file")
	csvPath := flag.String("csv", "", "orders CSV (id,price,volume,OrderAsk|OrderBid); random orders when empty")
	count := flag.Int("n", 1000, "number of random orders")
	mid := flag.String("mid", "100", "mid price for random orders")
	seed := flag.Uint64("seed", 1, "random seed")
	createdBy := flag.String("created-by", "genorders", "created_by stamped on every order")
	flag.Parse()

	cfg := config.LoadFromEnv(*envPath)
	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is not set")
	}

	var cmds []domain.OrderCommand
	if *csvPath != "" {
		f, err := os.Open(*csvPath)
		if err != nil {
			logger.Fatal("failed to open csv", zap.Error(err))
		}
		cmds, err = readCSV(f, *createdBy)
		f.Close()
		if err != nil {
			logger.Fatal("failed to read csv", zap.Error(err))
		}
	} else {
		midPrice, err := decimal.NewFromString(*mid)
		if err != nil || !midPrice.IsPositive() {
			logger.Fatal("invalid mid price", zap.String("mid", *mid))
		}
		cmds = randomOrders(rand.New(rand.NewPCG(*seed, *seed)), *count, midPrice,
			cfg.Market.PriceDecimals, cfg.Market.VolumeDecimals, *createdBy)
	}

	producer := ingest.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Market.Name)
	defer producer.Close()

	ctx := context.Background()
	for start := 0; start < len(cmds); start += batchSize {
		end := min(start+batchSize, len(cmds))
		if err := producer.Send(ctx, cmds[start:end]...); err != nil {
			logger.Fatal("failed to publish orders", zap.Int("offset", start), zap.Error(err))
		}
	}

	logger.Info("orders published",
		zap.Int("count", len(cmds)),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("market", cfg.Market.Name))
}

// readCSV parses rows of id,price,volume,OrderAsk|OrderBid. The id column is
// informational; the service assigns its own ids.
func readCSV(r io.Reader, createdBy string) ([]domain.OrderCommand, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true

	var cmds []domain.OrderCommand
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return cmds, nil
		}
		if err != nil {
			return nil, err
		}

		price, err := decimal.NewFromString(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: price: %w", line, err)
		}
		volume, err := decimal.NewFromString(record[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: volume: %w", line, err)
		}

		var side domain.Side
		switch strings.TrimSpace(record[3]) {
		case "OrderAsk":
			side = domain.SideSell
		case "OrderBid":
			side = domain.SideBuy
		default:
			return nil, fmt.Errorf("line %d: unknown order type %q", line, record[3])
		}

		cmds = append(cmds, domain.OrderCommand{
			Action:    domain.OrderActionNew,
			Side:      side,
			Price:     price,
			Volume:    volume,
			CreatedBy: createdBy,
		})
	}
}

// randomOrders generates n orders within 5% of mid on both sides.
func randomOrders(rng *rand.Rand, n int, mid decimal.Decimal, priceDecimals, volumeDecimals int32, createdBy string) []domain.OrderCommand {
	spread := mid.Mul(decimal.RequireFromString("0.05"))
	cmds := make([]domain.OrderCommand, 0, n)
	for range n {
		side := domain.SideBuy
		if rng.IntN(2) == 0 {
			side = domain.SideSell
		}
		offset := spread.Mul(decimal.NewFromFloat(rng.Float64()*2 - 1))
		price := mid.Add(offset).Round(priceDecimals)
		volume := decimal.NewFromFloat(0.01 + rng.Float64()*10).Truncate(volumeDecimals)

		cmds = append(cmds, domain.OrderCommand{
			Action:    domain.OrderActionNew,
			Side:      side,
			Price:     price,
			Volume:    volume,
			CreatedBy: createdBy,
		})
	}
	return cmds
}
