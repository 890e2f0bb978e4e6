package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/xraph/warrant"
	"github.com/xraph/warrant/catalog"
	"github.com/xraph/warrant/economy"
	"github.com/xraph/warrant/types"
)

var errUsage = errors.New("usage")

// Console is the line-oriented operator surface of warrantd.
type Console struct {
	engine   *warrant.Warrant
	wallet   *economy.Wallet
	starting types.Amount
	out      io.Writer

	mu     sync.Mutex
	funded map[uuid.UUID]bool
}

type command struct {
	args string
	help string
	run  func(c *Console, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"items":      {"", "list the catalog", (*Console).items},
		"connect":    {"<subject>", "load a subject's entitlements", (*Console).connect},
		"disconnect": {"<subject>", "drop a subject's session state", (*Console).disconnect},
		"buy":        {"<subject> <item>", "purchase an item", (*Console).buy},
		"give":       {"<subject> <item>", "grant an item for free", (*Console).give},
		"revoke":     {"<subject> <item>", "revoke an item", (*Console).revoke},
		"list":       {"<subject>", "show active purchases", (*Console).list},
		"has":        {"<subject> <capability>", "check a capability", (*Console).has},
		"run":        {"<subject> <action...>", "authorize an action", (*Console).authorize},
		"balance":    {"<subject>", "show a wallet balance", (*Console).balance},
		"deposit":    {"<subject> <amount>", "credit a wallet", (*Console).deposit},
		"sweep":      {"", "expire due capabilities now", (*Console).sweep},
		"help":       {"", "show this help", (*Console).help},
	}
}

// NewConsole creates a console writing to out. Subjects are credited
// starting once, on their first connect.
func NewConsole(engine *warrant.Warrant, wallet *economy.Wallet, starting types.Amount, out io.Writer) *Console {
	return &Console{
		engine:   engine,
		wallet:   wallet,
		starting: starting,
		out:      out,
		funded:   make(map[uuid.UUID]bool),
	}
}

// Run executes commands from in until EOF or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := c.Exec(ctx, line); err != nil {
				fmt.Fprintf(c.out, "error: %s\n", describe(err))
			}
		}
	}
}

// Exec runs a single command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	name := strings.ToLower(fields[0])
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	err := cmd.run(c, ctx, fields[1:])
	if errors.Is(err, errUsage) {
		return fmt.Errorf("%w: %s %s", errUsage, name, cmd.args)
	}
	return err
}

// ──────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────

func (c *Console) items(_ context.Context, _ []string) error {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tPRICE\tTERMS")
	for _, it := range c.engine.Catalog().Items() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Name, it.Kind, c.wallet.Format(it.Price), terms(it))
	}
	return tw.Flush()
}

func (c *Console) connect(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 1)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.funded[subject] {
		c.funded[subject] = true
		if c.starting > 0 {
			c.wallet.Deposit(subject, c.starting)
		}
	}
	c.mu.Unlock()

	r, err := c.engine.Connect(ctx, subject)
	if r != nil {
		fmt.Fprintf(c.out, "connected %s: %d timed, %d limited, %d permanent, %d retired\n",
			subject, r.Timed, r.Limited, r.Permanent, r.Deactivated)
	}
	return err
}

func (c *Console) disconnect(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 1)
	if err != nil {
		return err
	}
	if err := c.engine.Disconnect(ctx, subject); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "disconnected %s\n", subject)
	return nil
}

func (c *Console) buy(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 2)
	if err != nil {
		return err
	}
	ent, err := c.engine.Purchase(ctx, subject, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "purchased %s for %s%s\n", ent.Item.Name, c.wallet.Format(ent.Summary.Price), outcome(ent))
	return nil
}

func (c *Console) give(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 2)
	if err != nil {
		return err
	}
	ent, err := c.engine.Give(ctx, subject, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "gave %s to %s%s\n", ent.Item.Name, subject, outcome(ent))
	return nil
}

func (c *Console) revoke(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 2)
	if err != nil {
		return err
	}
	p, err := c.engine.RevokeItem(ctx, subject, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "revoked %s from %s (purchase %d)\n", p.ItemID, subject, p.ID)
	return nil
}

func (c *Console) list(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 1)
	if err != nil {
		return err
	}
	h, err := c.engine.Holdings(ctx, subject)
	if err != nil {
		return err
	}
	if len(h.Purchases) == 0 {
		fmt.Fprintf(c.out, "%s holds nothing\n", subject)
		return nil
	}

	sort.SliceStable(h.Purchases, func(i, j int) bool {
		return h.Purchases[i].Purchase.ID < h.Purchases[j].Purchase.ID
	})
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PURCHASE\tITEM\tSTATUS")
	for _, hold := range h.Purchases {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", hold.Purchase.ID, hold.Purchase.ItemID, status(hold))
	}
	return tw.Flush()
}

func (c *Console) has(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 2)
	if err != nil {
		return err
	}
	ok, err := c.engine.Has(ctx, subject, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s: %t\n", subject, args[1], ok)
	return nil
}

func (c *Console) authorize(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	subject, err := parseSubject(args[0])
	if err != nil {
		return err
	}
	action := strings.Join(args[1:], " ")
	d, err := c.engine.Authorize(ctx, subject, action)
	if err != nil {
		return err
	}

	switch d.Verdict {
	case warrant.VerdictConsumed:
		fmt.Fprintf(c.out, "allowed: used %s, %d left\n", d.ItemID, d.Purchase.RemainingUses)
	case warrant.VerdictDenied:
		fmt.Fprintf(c.out, "denied: %q requires %s\n", action, d.ItemID)
	default:
		fmt.Fprintf(c.out, "allowed (%s)\n", d.Verdict)
	}
	return nil
}

func (c *Console) balance(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 1)
	if err != nil {
		return err
	}
	bal, err := c.wallet.Balance(ctx, subject)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s balance: %s\n", subject, c.wallet.Format(bal))
	return nil
}

func (c *Console) deposit(ctx context.Context, args []string) error {
	subject, err := subjectArg(args, 2)
	if err != nil {
		return err
	}
	amount, err := types.ParseAmount(args[1])
	if err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("deposit must be positive, got %s", amount)
	}
	c.wallet.Deposit(subject, amount)
	return c.balance(ctx, args[:1])
}

func (c *Console) sweep(ctx context.Context, _ []string) error {
	r, err := c.engine.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "sweep %s: scanned %d, expired %d, failed %d\n", r.RunID, r.Scanned, r.Expired, r.Failed)
	return r.Err()
}

func (c *Console) help(_ context.Context, _ []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(tw, "%s %s\t%s\n", name, cmd.args, cmd.help)
	}
	return tw.Flush()
}

// ──────────────────────────────────────────────────
// Formatting
// ──────────────────────────────────────────────────

func subjectArg(args []string, want int) (uuid.UUID, error) {
	if len(args) != want {
		return uuid.Nil, errUsage
	}
	return parseSubject(args[0])
}

func parseSubject(s string) (uuid.UUID, error) {
	subject, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject %q: %w", s, err)
	}
	return subject, nil
}

func terms(it catalog.Item) string {
	switch it.Kind {
	case catalog.KindTimed:
		return types.FormatLong(it.Duration)
	case catalog.KindLimited:
		return fmt.Sprintf("%d uses", it.Uses)
	case catalog.KindPermanent:
		return "permanent"
	case catalog.KindResourceLimit:
		return fmt.Sprintf("+%d limit", it.Uses)
	default:
		return "once"
	}
}

func outcome(ent *warrant.Entitlement) string {
	if !ent.Recorded {
		return " (not recorded)"
	}
	s := ent.Summary
	switch {
	case s.Kind == catalog.KindTimed:
		return fmt.Sprintf(" (%s)", s.DurationText)
	case s.Kind == catalog.KindLimited:
		return fmt.Sprintf(" (%d uses)", s.Uses)
	case s.Kind == catalog.KindResourceLimit:
		return fmt.Sprintf(" (+%d limit)", s.Uses)
	case s.Permanent:
		return " (permanent)"
	default:
		return ""
	}
}

func status(h warrant.Holding) string {
	p := h.Purchase
	switch {
	case p.RemainingUses >= 0:
		return fmt.Sprintf("%d uses left", p.RemainingUses)
	case !p.Permanent():
		return h.RemainingText + " left"
	default:
		return "permanent"
	}
}

var messages = map[warrant.ErrorKind]string{
	warrant.KindItemNotFound:      "no such item",
	warrant.KindInsufficientFunds: "not enough money",
	warrant.KindInvalidDuration:   "item is misconfigured (duration)",
	warrant.KindInvalidUses:       "item is misconfigured (uses)",
	warrant.KindStorage:           "storage is unavailable, nothing was charged",
	warrant.KindGrantFailed:       "could not grant the capability, nothing was charged",
	warrant.KindActionFailed:      "the item's action failed, nothing was charged",
	warrant.KindNoQuotaProvider:   "no quota provider is configured",
	warrant.KindNotHeld:           "subject does not hold that item",
}

func describe(err error) string {
	if msg, ok := messages[warrant.Classify(err)]; ok {
		return fmt.Sprintf("%s (%v)", msg, err)
	}
	return err.Error()
}
