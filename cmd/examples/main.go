package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veiloq/backpack-connector/pkg/config"
	"github.com/veiloq/backpack-connector/pkg/exchanges/backpack"
	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/backpack-connector/pkg/logging"
)

func main() {
	logger := logging.NewLoggerWithLevel(logging.DEBUG)

	// Options come from a YAML file when BACKPACK_CONFIG is set, otherwise
	// from defaults plus BACKPACK_API_KEY / BACKPACK_API_SECRET.
	var options *interfaces.ExchangeOptions
	if path := os.Getenv("BACKPACK_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			logger.Error("failed to load config", logging.Error(err))
			os.Exit(1)
		}
		options = loaded
	} else {
		options = config.FromEnvironment()
	}

	connector, err := backpack.NewConnector(options)
	if err != nil {
		logger.Error("failed to build connector", logging.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("connecting to exchange")
	if err := connector.Connect(ctx); err != nil {
		logger.Error("failed to connect", logging.Error(err))
		os.Exit(1)
	}
	defer connector.Close()

	symbol := "SOL_USDC"

	// Stream public trades.
	logger.Info("subscribing to trades", logging.String("symbol", symbol))
	_, err = connector.SubscribeTrades(ctx, []string{symbol}, func(trade interfaces.Trade) {
		logger.Info("trade",
			logging.String("symbol", trade.Symbol),
			logging.String("price", trade.Price.String()),
			logging.String("quantity", trade.Quantity.String()),
			logging.Bool("buyer_maker", trade.BuyerMaker),
		)
	})
	if err != nil {
		logger.Error("failed to subscribe to trades", logging.Error(err))
		os.Exit(1)
	}

	// Maintain the order book and log the top of it.
	logger.Info("subscribing to depth", logging.String("symbol", symbol))
	_, err = connector.SubscribeDepth(ctx, []string{symbol}, func(interfaces.OrderBookSnapshot) {})
	if err != nil {
		logger.Error("failed to subscribe to depth", logging.Error(err))
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap, err := connector.OrderBook(symbol, 1)
				if err != nil {
					logger.Warn("book not ready", logging.Error(err))
					continue
				}
				if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
					logger.Info("top of book",
						logging.String("bid", snap.Bids[0].Price.String()),
						logging.String("ask", snap.Asks[0].Price.String()),
						logging.Uint64("last_update_id", snap.LastUpdateID),
					)
				}
			}
		}
	}()

	// Private flows need credentials.
	if options.APIKey != "" {
		balances, err := connector.GetBalances(ctx)
		if err != nil {
			logger.Error("failed to fetch balances", logging.Error(err))
		}
		for _, balance := range balances {
			logger.Info("balance",
				logging.String("asset", balance.Asset),
				logging.String("available", balance.Available.String()),
				logging.String("locked", balance.Locked.String()),
			)
		}

		_, err = connector.SubscribeOrderUpdates(ctx, "", func(order interfaces.Order) {
			logger.Info("order update",
				logging.String("id", order.ID),
				logging.String("symbol", order.Symbol),
				logging.String("status", order.Status),
				logging.String("filled", order.FilledQuantity.String()),
			)
		})
		if err != nil {
			logger.Error("failed to subscribe to order updates", logging.Error(err))
		}
	}

	// Run until interrupted.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}
