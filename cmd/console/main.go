package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-engine-go/cmd/console/config"
	"github.com/defistate/amm-engine-go/core"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

var trader = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

// session holds everything the console commands operate on.
type session struct {
	cfg    *config.ConsoleConfig
	engine *core.Core
	vault  *core.MemVault
	pools  map[string]poolHandle
	minted map[common.Address]bool
}

type poolHandle struct {
	id  core.PoolID
	key core.PoolKey
}

func main() {
	// --- 1. SETUP LOGGING (To File) ---
	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	rootLogHandler := slog.NewJSONHandler(logFile, nil)
	rootLogger := slog.New(rootLogHandler)

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check " + cfg.LogFile + " for details." + Reset)
		os.Exit(1)
	}

	// --- 2. ENGINE SETUP ---
	vault := core.NewMemVault()
	engine, err := core.New(&core.Config{
		Logger:   rootLogger.With("component", "amm-engine"),
		Registry: prometheus.DefaultRegisterer,
		Vault:    vault,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize engine", "error", err)
		closeApp()
	}

	s := &session{
		cfg:    cfg,
		engine: engine,
		vault:  vault,
		pools:  make(map[string]poolHandle),
		minted: make(map[common.Address]bool),
	}

	fmt.Println(Green + "Starting AMM Engine Console..." + Reset)
	fmt.Println("Logs are being written to '" + cfg.LogFile + "'")
	runConsole(s)
}

// runConsole handles user input and display.
func runConsole(s *session) {
	reader := bufio.NewReader(os.Stdin)

	for {
		printMenu()

		fmt.Print(Bold + "Enter selection: " + Reset)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("Error reading input:", err)
			return
		}
		input = strings.TrimSpace(input)

		handleCommand(input, s, reader)

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		reader.ReadString('\n')
	}
}

func printMenu() {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "AMM ENGINE CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Initialize Pool\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Add Liquidity\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Remove Liquidity\n", Cyan, Reset)
	fmt.Printf(" %s4.%s Swap\n", Cyan, Reset)
	fmt.Printf(" %s5.%s Pool Status\n", Cyan, Reset)
	fmt.Printf(" %s6.%s Balances\n", Cyan, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func handleCommand(input string, s *session, reader *bufio.Reader) {
	switch input {
	case "1":
		initPool(s, reader)
	case "2":
		addLiquidity(s, reader)
	case "3":
		removeLiquidity(s, reader)
	case "4":
		swap(s, reader)
	case "5":
		poolStatus(s, reader)
	case "6":
		printBalances(s)
	case "q":
		fmt.Println(Yellow + "Exiting..." + Reset)
		os.Exit(0)
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func initPool(s *session, reader *bufio.Reader) {
	header("INITIALIZE POOL")

	fmt.Print(Bold + "1. Pool name (e.g. WETH-USDC): " + Reset)
	name := readLine(reader)
	if name == "" {
		return
	}
	if _, exists := s.pools[name]; exists {
		fmt.Println(Red + "[ERROR] Pool name already in use." + Reset)
		return
	}

	fmt.Print(Bold + "2. Fee tier (")
	for i, t := range s.cfg.FeeTiers {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Print(t.Name)
	}
	fmt.Print("): " + Reset)
	tierName := readLine(reader)
	var tier *config.FeeTier
	for i := range s.cfg.FeeTiers {
		if s.cfg.FeeTiers[i].Name == tierName {
			tier = &s.cfg.FeeTiers[i]
			break
		}
	}
	if tier == nil {
		fmt.Println(Red + "[ERROR] Unknown fee tier." + Reset)
		return
	}

	fmt.Print(Bold + "3. Initial tick (0 = 1:1 price): " + Reset)
	tick, ok := readInt32(reader)
	if !ok {
		return
	}

	token0, token1 := tokensForPool(name)
	key := core.PoolKey{
		Token0:      token0,
		Token1:      token1,
		Fee:         tier.Fee,
		TickSpacing: tier.TickSpacing,
	}
	id, err := s.engine.InitializePool(trader, key, tick)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	s.pools[name] = poolHandle{id: id, key: key}
	s.ensureMinted(token0)
	s.ensureMinted(token1)

	fmt.Printf("\n%sPool created.%s\n", Green, Reset)
	fmt.Printf(" %s%-10s%s %s\n", Gray, "ID:", Reset, id)
	fmt.Printf(" %s%-10s%s %s\n", Gray, "Token0:", Reset, token0)
	fmt.Printf(" %s%-10s%s %s\n", Gray, "Token1:", Reset, token1)
	fmt.Printf(" %s%-10s%s %d (spacing %d)\n", Gray, "Fee:", Reset, tier.Fee, tier.TickSpacing)
}

func addLiquidity(s *session, reader *bufio.Reader) {
	header("ADD LIQUIDITY")
	h, ok := pickPool(s, reader)
	if !ok {
		return
	}

	fmt.Print(Bold + "Lower tick: " + Reset)
	lower, ok := readInt32(reader)
	if !ok {
		return
	}
	fmt.Print(Bold + "Upper tick: " + Reset)
	upper, ok := readInt32(reader)
	if !ok {
		return
	}
	fmt.Print(Bold + "Liquidity amount: " + Reset)
	liquidity, ok := readBig(reader)
	if !ok {
		return
	}

	_, err := s.engine.Lock(trader, nil, func(l *core.Locker, _ []byte) ([]byte, error) {
		delta0, delta1, _, _, err := l.UpdatePosition(h.key, core.UpdatePositionParams{
			TickLower:      lower,
			TickUpper:      upper,
			LiquidityDelta: liquidity,
		})
		if err != nil {
			return nil, err
		}
		fmt.Printf("\n%sDeposit required:%s %s of token0, %s of token1\n", Bold, Reset, delta0, delta1)
		if err := payOrWithdraw(l, h.key.Token0, delta0); err != nil {
			return nil, err
		}
		return nil, payOrWithdraw(l, h.key.Token1, delta1)
	})
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	fmt.Println(Green + "Liquidity added." + Reset)
}

func removeLiquidity(s *session, reader *bufio.Reader) {
	header("REMOVE LIQUIDITY")
	h, ok := pickPool(s, reader)
	if !ok {
		return
	}

	fmt.Print(Bold + "Lower tick: " + Reset)
	lower, ok := readInt32(reader)
	if !ok {
		return
	}
	fmt.Print(Bold + "Upper tick: " + Reset)
	upper, ok := readInt32(reader)
	if !ok {
		return
	}
	fmt.Print(Bold + "Liquidity to remove: " + Reset)
	liquidity, ok := readBig(reader)
	if !ok {
		return
	}
	liquidity.Neg(liquidity)

	_, err := s.engine.Lock(trader, nil, func(l *core.Locker, _ []byte) ([]byte, error) {
		params := core.UpdatePositionParams{TickLower: lower, TickUpper: upper}
		fees0, fees1, err := l.CollectFees(h.key, params)
		if err != nil {
			return nil, err
		}
		if fees0.Sign() != 0 || fees1.Sign() != 0 {
			fmt.Printf("\n%sFees collected:%s %s of token0, %s of token1\n", Bold, Reset, fees0, fees1)
		}
		params.LiquidityDelta = liquidity
		delta0, delta1, _, _, err := l.UpdatePosition(h.key, params)
		if err != nil {
			return nil, err
		}
		fmt.Printf("%sPrincipal returned:%s %s of token0, %s of token1\n", Bold, Reset,
			new(big.Int).Neg(delta0), new(big.Int).Neg(delta1))

		if err := payOrWithdraw(l, h.key.Token0, new(big.Int).Sub(delta0, fees0)); err != nil {
			return nil, err
		}
		return nil, payOrWithdraw(l, h.key.Token1, new(big.Int).Sub(delta1, fees1))
	})
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	fmt.Println(Green + "Liquidity removed." + Reset)
}

func swap(s *session, reader *bufio.Reader) {
	header("SWAP")
	h, ok := pickPool(s, reader)
	if !ok {
		return
	}

	fmt.Print(Bold + "Sell token (0/1): " + Reset)
	side, ok := readInt32(reader)
	if !ok || (side != 0 && side != 1) {
		fmt.Println(Red + "[ERROR] Pick 0 or 1." + Reset)
		return
	}
	fmt.Print(Bold + "Amount to sell: " + Reset)
	amount, ok := readBig(reader)
	if !ok {
		return
	}

	_, err := s.engine.Lock(trader, nil, func(l *core.Locker, _ []byte) ([]byte, error) {
		delta0, delta1, state, err := l.Swap(h.key, core.SwapParams{
			Amount:   amount,
			IsToken1: side == 1,
		})
		if err != nil {
			return nil, err
		}
		fmt.Printf("\n%sResult:%s delta0=%s delta1=%s\n", Bold, Reset, delta0, delta1)
		fmt.Printf("%sPool after:%s tick=%s%d%s liquidity=%s\n", Bold, Reset, Yellow, state.Tick, Reset, state.Liquidity)

		if err := payOrWithdraw(l, h.key.Token0, delta0); err != nil {
			return nil, err
		}
		return nil, payOrWithdraw(l, h.key.Token1, delta1)
	})
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	fmt.Println(Green + "Swap settled." + Reset)
}

func poolStatus(s *session, reader *bufio.Reader) {
	header("POOL STATUS")
	h, ok := pickPool(s, reader)
	if !ok {
		return
	}

	state, ok := s.engine.PoolState(h.id)
	if !ok {
		fmt.Println(Red + "[NOT FOUND] Pool state missing." + Reset)
		return
	}

	printField := func(key string, value any) {
		fmt.Printf("  %s%-15s%s %v\n", Gray, key+":", Reset, value)
	}
	printField("Pool ID", h.id)
	printField("SqrtRatio", state.SqrtRatio)
	printField("Current Tick", fmt.Sprintf("%s%d%s", Yellow, state.Tick, Reset))
	printField("Liquidity", state.Liquidity)
	printField("Active Ticks", len(s.engine.InitializedTicks(h.id)))
}

func printBalances(s *session) {
	header("TRADER BALANCES")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tBALANCE\tENGINE RESERVE\t")
	fmt.Fprintln(w, "-----\t-------\t--------------\t")
	for token := range s.minted {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", token, s.vault.BalanceOf(token, trader), s.vault.Reserve(token))
	}
	w.Flush()
}

// --- HELPERS ---

// payOrWithdraw settles one signed token delta: positive is owed to the
// engine, negative is owed out.
func payOrWithdraw(l *core.Locker, token common.Address, delta *big.Int) error {
	switch delta.Sign() {
	case 1:
		return l.Pay(token, delta)
	case -1:
		return l.Withdraw(token, trader, new(big.Int).Neg(delta))
	}
	return nil
}

func (s *session) ensureMinted(token common.Address) {
	if s.minted[token] {
		return
	}
	amount, ok := new(big.Int).SetString(s.cfg.MintAmount, 10)
	if !ok {
		amount = big.NewInt(1_000_000_000)
	}
	s.vault.Mint(token, trader, amount)
	s.minted[token] = true
}

// tokensForPool derives a deterministic, canonically ordered token pair from
// the pool name.
func tokensForPool(name string) (common.Address, common.Address) {
	a := common.BytesToAddress([]byte(name + "/0"))
	b := common.BytesToAddress([]byte(name + "/1"))
	if bytes32Less(a, b) {
		return a, b
	}
	return b, a
}

func bytes32Less(a, b common.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func pickPool(s *session, reader *bufio.Reader) (poolHandle, bool) {
	if len(s.pools) == 0 {
		fmt.Println(Yellow + "[INFO] No pools yet. Initialize one first." + Reset)
		return poolHandle{}, false
	}
	fmt.Print(Bold + "Pool name: " + Reset)
	name := readLine(reader)
	h, ok := s.pools[name]
	if !ok {
		fmt.Println(Red + "[NOT FOUND] Unknown pool name." + Reset)
		return poolHandle{}, false
	}
	return h, true
}

func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func readInt32(reader *bufio.Reader) (int32, bool) {
	v, err := strconv.ParseInt(readLine(reader), 10, 32)
	if err != nil {
		fmt.Printf(Red+"[ERROR] Invalid number: %v%s\n", err, Reset)
		return 0, false
	}
	return int32(v), true
}

func readBig(reader *bufio.Reader) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(readLine(reader), 10)
	if !ok {
		fmt.Println(Red + "[ERROR] Invalid number." + Reset)
		return nil, false
	}
	return v, true
}

func loadConfig() (*config.ConsoleConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
