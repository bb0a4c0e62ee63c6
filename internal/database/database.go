package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/configs"
	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// Service is the persistent store collaborator. The engine loads every
// scheduled and live auction at startup and durably writes each accepted
// mutation before acknowledging the caller.
//
// Expected schema (Postgres):
//
//	"Auctions"      id PK, sellerId, type, status, product JSONB,
//	                startingPrice/currentPrice/incrementAmount NUMERIC,
//	                reservePrice/buyNowPrice NUMERIC NULL,
//	                startDate/endDate timestamptz,
//	                extensionWindowSeconds/extensionSeconds INT,
//	                highestBidId TEXT, biddersCount INT, watchers JSONB,
//	                winnerId TEXT NULL, createdAt/updatedAt timestamptz
//	"Bid"           id PK, auctionId, bidderId, amount NUMERIC,
//	                isAutoBid BOOL, maxAutoBid NUMERIC NULL,
//	                paymentToken TEXT, createdAt timestamptz
//	"AutoBidConfig" (auctionId, userId) PK, maxAmount NUMERIC,
//	                strategy TEXT, isActive BOOL, createdAt timestamptz
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	Close() error

	// LoadActiveAuctions returns every auction with status scheduled or
	// live, bids included in acceptance order.
	LoadActiveAuctions(ctx context.Context) ([]types.Auction, error)

	// LoadAutoBidConfigs returns every active auto-bid configuration.
	LoadAutoBidConfigs(ctx context.Context) ([]types.AutoBidConfig, error)

	InsertAuction(ctx context.Context, a types.Auction) error
	UpdateAuction(ctx context.Context, a types.Auction) error

	// CommitBid durably writes an accepted bid and the auction state it
	// produced in a single serializable transaction.
	CommitBid(ctx context.Context, a types.Auction, b types.Bid) error

	SaveAutoBidConfig(ctx context.Context, c types.AutoBidConfig) error
}

type service struct {
	db *sql.DB
}

func New(cfg *configs.Config) (Service, error) {
	dbConfig := cfg.Database
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.Name,
		dbConfig.SSLMode,
	)
	return Open(connStr)
}

// Open connects using a raw connection string. Used directly by tests.
func Open(connStr string) (Service, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}
	return &service{db: db}, nil
}

// Health checks the health of the database connection by pinging the
// database and reporting pool statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

const auctionColumns = `"id", "sellerId", "type", "status", "product", "startingPrice", "currentPrice", "reservePrice", "buyNowPrice", "incrementAmount", "startDate", "endDate", "extensionWindowSeconds", "extensionSeconds", "highestBidId", "biddersCount", "watchers", "winnerId", "createdAt", "updatedAt"`

func (s *service) LoadActiveAuctions(ctx context.Context) ([]types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM public."Auctions" WHERE "status" IN ('scheduled', 'live') ORDER BY "startDate" ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error loading active auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}

	for i := range auctions {
		bids, err := s.loadBids(ctx, auctions[i].ID)
		if err != nil {
			return nil, err
		}
		auctions[i].Bids = bids
	}
	return auctions, nil
}

func (s *service) loadBids(ctx context.Context, auctionID string) ([]types.Bid, error) {
	query := `SELECT "id", "auctionId", "bidderId", "amount", "isAutoBid", "maxAutoBid", "paymentToken", "createdAt" FROM public."Bid" WHERE "auctionId" = $1 ORDER BY "createdAt" ASC`
	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("error loading bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		var bid types.Bid
		var maxAutoBid decimal.NullDecimal
		var token sql.NullString
		err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount, &bid.IsAutoBid, &maxAutoBid, &token, &bid.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		if maxAutoBid.Valid {
			v := maxAutoBid.Decimal
			bid.MaxAutoBid = &v
		}
		bid.PaymentToken = token.String
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

func (s *service) LoadAutoBidConfigs(ctx context.Context) ([]types.AutoBidConfig, error) {
	query := `SELECT "auctionId", "userId", "maxAmount", "strategy", "isActive", "createdAt" FROM public."AutoBidConfig" WHERE "isActive" = true ORDER BY "createdAt" ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error loading auto-bid configs: %w", err)
	}
	defer rows.Close()

	var configs []types.AutoBidConfig
	for rows.Next() {
		var cfg types.AutoBidConfig
		err := rows.Scan(&cfg.AuctionID, &cfg.UserID, &cfg.MaxAmount, &cfg.Strategy, &cfg.IsActive, &cfg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning auto-bid config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *service) InsertAuction(ctx context.Context, a types.Auction) error {
	product, watchers, err := marshalAuctionJSON(a)
	if err != nil {
		return err
	}
	query := `INSERT INTO public."Auctions" (` + auctionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.SellerID, a.Type, a.Status, product,
		a.StartingPrice, a.CurrentPrice, nullDecimal(a.ReservePrice), nullDecimal(a.BuyNowPrice), a.IncrementAmount,
		a.StartTime, a.EndTime, int(a.ExtensionWindow.Seconds()), int(a.Extension.Seconds()),
		a.HighestBidID, a.BiddersCount, watchers, a.WinnerID, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "error inserting auction")
	}
	return nil
}

func (s *service) UpdateAuction(ctx context.Context, a types.Auction) error {
	if err := s.updateAuction(ctx, s.db, a); err != nil {
		return errors.Wrap(err, "error updating auction")
	}
	log.Debugf("Auction %s persisted with status %s and price %s", a.ID, a.Status, a.CurrentPrice)
	return nil
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *service) updateAuction(ctx context.Context, ex execer, a types.Auction) error {
	product, watchers, err := marshalAuctionJSON(a)
	if err != nil {
		return err
	}
	query := `
        UPDATE public."Auctions"
        SET "status" = $1, "product" = $2, "currentPrice" = $3, "endDate" = $4,
            "highestBidId" = $5, "biddersCount" = $6, "watchers" = $7,
            "winnerId" = $8, "updatedAt" = $9
        WHERE "id" = $10
    `
	result, err := ex.ExecContext(ctx, query,
		a.Status, product, a.CurrentPrice, a.EndTime,
		a.HighestBidID, a.BiddersCount, watchers,
		a.WinnerID, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("auction %s not found", a.ID)
	}
	return nil
}

// CommitBid writes the accepted bid and the auction state it produced in
// one serializable transaction, the same pattern the bid path uses so a
// bid row can never exist without its price change.
func (s *service) CommitBid(ctx context.Context, a types.Auction, b types.Bid) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.Wrap(err, "error starting transaction")
	}
	defer tx.Rollback()

	if err := s.updateAuction(ctx, tx, a); err != nil {
		return errors.Wrap(err, "error updating auction in tx")
	}

	query := `INSERT INTO public."Bid" ("id", "auctionId", "bidderId", "amount", "isAutoBid", "maxAutoBid", "paymentToken", "createdAt") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.ExecContext(ctx, query,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.IsAutoBid, nullDecimal(b.MaxAutoBid), b.PaymentToken, b.Timestamp,
	)
	if err != nil {
		return errors.Wrap(err, "error creating bid in tx")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing bid transaction")
	}
	return nil
}

func (s *service) SaveAutoBidConfig(ctx context.Context, c types.AutoBidConfig) error {
	query := `
        INSERT INTO public."AutoBidConfig" ("auctionId", "userId", "maxAmount", "strategy", "isActive", "createdAt")
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT ("auctionId", "userId")
        DO UPDATE SET "maxAmount" = $3, "strategy" = $4, "isActive" = $5
    `
	_, err := s.db.ExecContext(ctx, query, c.AuctionID, c.UserID, c.MaxAmount, c.Strategy, c.IsActive, c.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "error saving auto-bid config")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (types.Auction, error) {
	var a types.Auction
	var product, watchers []byte
	var reserve, buyNow decimal.NullDecimal
	var highestBidID sql.NullString
	var extensionWindow, extension int

	err := row.Scan(
		&a.ID, &a.SellerID, &a.Type, &a.Status, &product,
		&a.StartingPrice, &a.CurrentPrice, &reserve, &buyNow, &a.IncrementAmount,
		&a.StartTime, &a.EndTime, &extensionWindow, &extension,
		&highestBidID, &a.BiddersCount, &watchers, &a.WinnerID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return types.Auction{}, err
	}

	if reserve.Valid {
		v := reserve.Decimal
		a.ReservePrice = &v
	}
	if buyNow.Valid {
		v := buyNow.Decimal
		a.BuyNowPrice = &v
	}
	a.HighestBidID = highestBidID.String
	a.ExtensionWindow = time.Duration(extensionWindow) * time.Second
	a.Extension = time.Duration(extension) * time.Second

	if len(product) > 0 {
		if err := json.Unmarshal(product, &a.Product); err != nil {
			return types.Auction{}, fmt.Errorf("error decoding product snapshot: %w", err)
		}
	}
	if len(watchers) > 0 {
		if err := json.Unmarshal(watchers, &a.Watchers); err != nil {
			return types.Auction{}, fmt.Errorf("error decoding watchers: %w", err)
		}
	}
	return a, nil
}

func marshalAuctionJSON(a types.Auction) (product, watchers []byte, err error) {
	product, err = json.Marshal(a.Product)
	if err != nil {
		return nil, nil, fmt.Errorf("error encoding product snapshot: %w", err)
	}
	if a.Watchers == nil {
		watchers = []byte(`{}`)
	} else if watchers, err = json.Marshal(a.Watchers); err != nil {
		return nil, nil, fmt.Errorf("error encoding watchers: %w", err)
	}
	return product, watchers, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
