package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/configs"
	"github.com/motorline/auction-engine/internal/analytics"
	"github.com/motorline/auction-engine/internal/database"
	"github.com/motorline/auction-engine/internal/engine"
	ws "github.com/motorline/auction-engine/internal/handlers/websocket"
	"github.com/motorline/auction-engine/internal/risk"
	"github.com/motorline/auction-engine/pkg/utils"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	eng *engine.Engine
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(5*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Define the model for the Bubble Tea application
type model struct {
	table     table.Model
	viewport  viewport.Model
	logBuffer *bytes.Buffer
	logs      []string
	showTable bool
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tick()
}

func auctionRows() []table.Row {
	auctions := eng.ActiveAuctions()
	rows := make([]table.Row, 0, len(auctions))
	for _, auction := range auctions {
		highBidder := "-"
		if highest := auction.HighestBid(); highest != nil {
			highBidder = highest.BidderID
		}

		timeLeft := time.Until(auction.EndTime)
		timeLeftStr := timeLeft.Truncate(time.Second).String()
		if auction.Status == "scheduled" {
			timeLeftStr = "starts " + time.Until(auction.StartTime).Truncate(time.Second).String()
		} else if timeLeft < 0 {
			timeLeftStr = "Ended"
		}

		rows = append(rows, table.Row{
			auction.ID,
			string(auction.Status),
			auction.CurrentPrice.String(),
			highBidder,
			timeLeftStr,
		})
	}
	return rows
}

func newTable() model {
	columns := []table.Column{
		{Title: "AUCTION ID", Width: 36},
		{Title: "STATUS", Width: 10},
		{Title: "CURRENT PRICE", Width: 14},
		{Title: "HIGH BIDDER", Width: 20},
		{Title: "TIME LEFT", Width: 20},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(auctionRows()),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, 15)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return model{table: t, showTable: true, viewport: vp}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.table.SetRows(auctionRows())
		} else {
			// refresh logs to get new logs
			m.logs = nil
			m.logs = append(m.logs, strings.Split(m.logBuffer.String(), "\n")...)
		}
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1)
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1)
			}
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				m.logs = nil
				m.logs = append(m.logs, strings.Split(m.logBuffer.String(), "\n")...)
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// Render the view based on the current state of the model
func (m model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		return baseStyle.Render(m.table.View()) + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
	}

	styledLogs := make([]string, len(m.logs))
	copy(styledLogs, m.logs)
	styledLogs = utils.ColorizeLogs(styledLogs)

	// only show last 15 lines of logs
	if len(styledLogs) > 15 {
		styledLogs = styledLogs[len(styledLogs)-15:]
	}

	m.viewport.SetContent(strings.Join(styledLogs, "\n"))
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}

// permissiveFraudService approves every bid with a neutral score. Used
// only when no risk service endpoint is configured.
type permissiveFraudService struct{}

func (permissiveFraudService) Evaluate(_ context.Context, bidderID string, amount decimal.Decimal, _ time.Time) (engine.FraudDecision, error) {
	log.Debugf("Risk screen for %s at %s: approved", bidderID, amount)
	return engine.FraudDecision{Approved: true}, nil
}

// loggingOrderService records settlements in the log until the order
// service client lands.
type loggingOrderService struct{}

func (loggingOrderService) CreateOrder(_ context.Context, auctionID, winnerID string, amount decimal.Decimal) (string, error) {
	orderID := uuid.NewString()
	log.Infof("Order %s created: auction %s, winner %s, amount %s", orderID, auctionID, winnerID, amount)
	return orderID, nil
}

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug"
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Redirect logs to buffer for the dashboard viewport
	logBuffer := new(bytes.Buffer)
	log.SetOutput(logBuffer)

	// Initialize database service
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal("Error connecting to database: ", err)
	}
	defer db.Close()

	threshold, err := decimal.NewFromString(cfg.Engine.PaymentAuthThreshold)
	if err != nil {
		log.Fatal("Invalid payment threshold: ", err)
	}

	var fraud engine.FraudService = permissiveFraudService{}
	if cfg.Engine.RiskServiceURL != "" {
		fraud = risk.NewClient(cfg.Engine.RiskServiceURL)
	} else {
		log.Warn("No risk service configured, every bid will be approved")
	}

	// Initialize the engine and its collaborators
	eng = engine.New(engine.Config{
		DefaultExtensionWindow: cfg.ExtensionWindow(),
		DefaultExtension:       cfg.Extension(),
		PaymentAuthThreshold:   threshold,
		ExternalCallTimeout:    cfg.ExternalCallTimeout(),
		EventBuffer:            cfg.Engine.EventBuffer,
	}, db, engine.Collaborators{
		Fraud:  fraud,
		Orders: loggingOrderService{},
	})
	defer eng.Close()

	auctionHandler := ws.NewAuctionHandler(eng, cfg)
	// User notifications go out over the same websocket connections.
	eng.SetNotifier(auctionHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatal("Error starting engine: ", err)
	}
	go auctionHandler.Run(ctx)

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		sink := analytics.NewSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer sink.Close()
		events, cancelSub := eng.Subscribe()
		defer cancelSub()
		go sink.Run(ctx, events)
	}

	// Setup routes
	router := mux.NewRouter()
	router.HandleFunc("/ws/auction", auctionHandler.HandleAuctions)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(db.Health())
	})

	// Start server in a goroutine
	log.Infof("Server started on port %s", port)
	go func() {
		if err := http.ListenAndServe(":"+port, router); err != nil {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Start Bubble Tea program
	m := newTable()
	m.logBuffer = logBuffer
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running Bubble Tea program: %v", err)
	}
}
