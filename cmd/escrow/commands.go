package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"parimutuel-escrow/internal/config"
	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/engine"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/ledger"
	"parimutuel-escrow/internal/oracle"
	"parimutuel-escrow/internal/reporting"
	"parimutuel-escrow/internal/verification"
)

// withEngine opens the configured stores, runs fn and closes the stores.
func withEngine(ctx context.Context, cfg *config.Config, fn func(e *engine.Engine, s *stores) error) error {
	s, err := createStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.cleanup()

	e, err := newEngine(cfg, s, logger)
	if err != nil {
		return err
	}
	return fn(e, s)
}

func runKeygen(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}

	pub, seed, err := oracle.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Printf("public_key  = %s\n", pub)
	fmt.Printf("private_key = %s\n", seed)
	return nil
}

func runCapability(_ context.Context, args []string) error {
	fs, g := newFlagSet("capability")
	privateKey := fs.String("private-key", "", "signing key, base58 seed (overrides config)")
	sweepTo := fs.String("sweep-to", "", "issue a sweep capability for this treasury target instead")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	seed, source := cfg.Authority.PrivateKey, "[authority] private_key"
	if *sweepTo != "" {
		seed, source = cfg.TreasurySigningKey(), "[treasury] private_key"
	}
	if *privateKey != "" {
		seed = *privateKey
	}
	if seed == "" {
		return usageError{fmt.Errorf("private key is required (-private-key or %s)", source)}
	}
	priv, err := oracle.ParsePrivateKey(seed)
	if err != nil {
		return domain.NewError(domain.CodeInvalidInput, err.Error(), nil)
	}

	potID := idhash.ComputePotID(params)
	fmt.Printf("pot_id     = %s\n", potID)
	if *sweepTo != "" {
		fmt.Printf("treasury   = %s\n", *sweepTo)
		fmt.Printf("capability = %s\n", oracle.IssueSweepCapability(priv, potID, *sweepTo).Encode())
		return nil
	}
	fmt.Printf("capability = %s\n", oracle.IssueCapability(priv, potID).Encode())
	return nil
}

func runLock(ctx context.Context, args []string) error {
	fs, g := newFlagSet("lock")
	outcomeFlag := fs.String("outcome", "", "predicted outcome: TIE, HOME or AWAY")
	adaFlag := fs.String("ada", "", "ADA locked in the pot, e.g. 12.5")
	bead := fs.Int64("bead", 0, "bonus tokens burned")
	owner := fs.String("owner", "", "owner credential")
	bonus := fs.Int64("bonus-contribution", 0, "token-sale contribution in whole ADA, 0 if none")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	outcome, err := domain.ParseOutcome(*outcomeFlag)
	if err != nil {
		return err
	}
	ada, err := parseADA(*adaFlag)
	if err != nil {
		return err
	}

	req := ledger.LockRequest{
		Outcome:           outcome,
		AdaAmount:         ada,
		BeadBurnAmount:    *bead,
		MintQuantity:      ledger.PlanLock(ada, *bead),
		Owner:             *owner,
		BonusContribution: *bonus,
	}
	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		p, err := e.LockPosition(ctx, params, req)
		if err != nil {
			return err
		}
		fmt.Printf("position_id = %s\n", p.PositionID)
		fmt.Printf("fund_id     = %s\n", p.FundID)
		fmt.Printf("stake       = %d %s\n", p.StakeTokenQuantity, p.StakeTokenName)
		fmt.Printf("locked      = %s ADA\n", reporting.FormatADA(p.AdaContributed))
		return nil
	})
}

func runPostOutcome(ctx context.Context, args []string) error {
	fs, g := newFlagSet("post-outcome")
	outcomeFlag := fs.String("outcome", "", "winning outcome: TIE, HOME or AWAY")
	capability := fs.String("capability", os.Getenv("ESCROW_CAPABILITY"), "settlement capability (base58)")
	totalPot := fs.Int64("total-pot", -1, "total pot in lovelace")
	winningStake := fs.Int64("winning-stake", -1, "total stake on the winning outcome")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	outcome, err := domain.ParseOutcome(*outcomeFlag)
	if err != nil {
		return err
	}
	c, err := decodeCapability(params, *capability)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		rec, err := e.PostOutcome(ctx, params, c, outcome, *totalPot, *winningStake)
		if err != nil {
			return err
		}
		printOutcome(rec)
		return nil
	})
}

func runSettle(ctx context.Context, args []string) error {
	fs, g := newFlagSet("settle")
	outcomeFlag := fs.String("outcome", "", "winning outcome: TIE, HOME or AWAY")
	capability := fs.String("capability", os.Getenv("ESCROW_CAPABILITY"), "settlement capability (base58)")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	outcome, err := domain.ParseOutcome(*outcomeFlag)
	if err != nil {
		return err
	}
	c, err := decodeCapability(params, *capability)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		rec, err := e.SettleFromLedger(ctx, params, c, outcome)
		if err != nil {
			return err
		}
		printOutcome(rec)
		return nil
	})
}

func runInject(ctx context.Context, args []string) error {
	fs, g := newFlagSet("inject")
	adaFlag := fs.String("ada", "", "ADA added to the pot")
	source := fs.String("source", "operator", "source of the liquidity")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}
	ada, err := parseADA(*adaFlag)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		f, err := e.InjectLiquidity(ctx, params, ada, *source)
		if err != nil {
			return err
		}
		fmt.Printf("fund_id = %s\n", f.FundID)
		fmt.Printf("amount  = %s ADA\n", reporting.FormatADA(f.Amount))
		return nil
	})
}

func runPlan(ctx context.Context, args []string) error {
	fs, g := newFlagSet("plan")
	position := fs.String("position", "", "position id")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		req, err := e.PlanRedemption(ctx, params, *position)
		if err != nil {
			return err
		}
		fmt.Printf("payout      = %s ADA\n", reporting.FormatADA(req.PayoutAmount))
		fmt.Printf("max_allowed = %s ADA\n", reporting.FormatADA(req.MaxAllowed))
		printSelection(req.Selection)
		return nil
	})
}

func runRedeem(ctx context.Context, args []string) error {
	fs, g := newFlagSet("redeem")
	position := fs.String("position", "", "position id")
	recipient := fs.String("recipient", "", "payout address")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		res, err := e.Redeem(ctx, params, *position, *recipient)
		if err != nil {
			return err
		}
		fmt.Printf("transition_id = %s\n", res.TransitionID)
		fmt.Printf("payout        = %s ADA\n", reporting.FormatADA(res.Payout))
		fmt.Printf("attempts      = %d\n", res.Attempts)
		if res.ChangeFundID != "" {
			fmt.Printf("change_fund   = %s\n", res.ChangeFundID)
		}
		printSelection(res.Selection)
		return nil
	})
}

func runSweep(ctx context.Context, args []string) error {
	fs, g := newFlagSet("sweep")
	treasury := fs.String("treasury", "", "treasury address (defaults to [treasury] target)")
	capability := fs.String("capability", os.Getenv("ESCROW_SWEEP_CAPABILITY"), "sweep capability (base58)")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	target := *treasury
	if target == "" {
		target = cfg.Treasury.Target
	}
	if target == "" {
		return usageError{errors.New("-treasury is required when [treasury] target is not set")}
	}
	if *capability == "" {
		return usageError{errors.New("-capability is required")}
	}
	c, err := oracle.DecodeSweepCapability(idhash.ComputePotID(params), target, *capability)
	if err != nil {
		return domain.NewError(domain.CodeInvalidInput, err.Error(), nil)
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		res, err := e.Sweep(ctx, params, c, target)
		if err != nil {
			return err
		}
		fmt.Printf("funds         = %d\n", res.FundCount)
		fmt.Printf("total         = %s ADA\n", reporting.FormatADA(res.TotalValue))
		fmt.Printf("marker_burned = %v\n", res.MarkerBurned)
		if res.TransitionID != "" {
			fmt.Printf("transition_id = %s\n", res.TransitionID)
		}
		return nil
	})
}

func runStatus(ctx context.Context, args []string) error {
	fs, g := newFlagSet("status")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, _ *stores) error {
		st, err := e.Status(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("event      = %s\n", params)
		fmt.Printf("pot_id     = %s\n", st.PotID)
		fmt.Printf("funds      = %d (%s ADA)\n", st.FundCount, reporting.FormatADA(st.LiveValue))
		fmt.Printf("positions  = %d (%d redeemed)\n", len(st.Positions), len(st.Redeemed))
		for _, o := range domain.AllOutcomes {
			fmt.Printf("stake.%-4s = %d\n", o, st.StakeByOutcome[o])
		}
		if st.Outcome != nil {
			printOutcome(st.Outcome)
		} else {
			fmt.Println("outcome    = not posted")
		}
		return nil
	})
}

func runReconcile(ctx context.Context, args []string) error {
	fs, g := newFlagSet("reconcile")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(_ *engine.Engine, s *stores) error {
		potID := idhash.ComputePotID(params)
		result, err := verification.NewLedgerReconciler(s.ledger).ReconcilePot(ctx, potID)
		if err != nil {
			return err
		}
		fmt.Printf("transitions = %d\n", result.Transitions)
		fmt.Printf("inflow      = %s ADA\n", reporting.FormatADA(result.TotalInflow))
		fmt.Printf("outflow     = %s ADA\n", reporting.FormatADA(result.TotalOutflow))
		fmt.Printf("payouts     = %s ADA (%d redemptions)\n", reporting.FormatADA(result.TotalPayout), result.Redemptions)
		fmt.Printf("live        = %s ADA\n", reporting.FormatADA(result.LiveValue))
		if result.Match {
			fmt.Println("status      = MATCH")
			return nil
		}
		fmt.Println("status      = DIVERGENT")
		for _, d := range result.Divergences {
			fmt.Printf("  %s: expected %v, actual %v\n", d.Field, d.Expected, d.Actual)
		}
		return domain.NewError(domain.CodeInvariantViolation, "ledger does not reconcile", map[string]any{
			"pot_id":      potID,
			"divergences": len(result.Divergences),
		})
	})
}

func runReport(ctx context.Context, args []string) error {
	fs, g := newFlagSet("report")
	outputDir := fs.String("output-dir", "reports", "output directory for generated files")
	cfg, params, err := parse(fs, g, args)
	if err != nil {
		return err
	}

	return withEngine(ctx, cfg, func(_ *engine.Engine, s *stores) error {
		gen := reporting.NewGenerator(s.ledger, s.audit, verification.NewLedgerReconciler(s.ledger))
		report, err := gen.Generate(ctx, params)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(*outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		base := fmt.Sprintf("pot_%d", params.EventID)
		files := map[string]string{
			base + ".md":              reporting.RenderMarkdown(report),
			base + "_positions.csv":   reporting.RenderPositionsCSV(report.Positions),
			base + "_transitions.csv": reporting.RenderTransitionsCSV(report.Transitions),
		}
		for name, content := range files {
			path := filepath.Join(*outputDir, name)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			logger.Printf("wrote %s", path)
		}
		return nil
	})
}

func decodeCapability(params domain.EventParams, encoded string) (oracle.Capability, error) {
	if encoded == "" {
		return oracle.Capability{}, usageError{errors.New("-capability is required")}
	}
	c, err := oracle.DecodeCapability(idhash.ComputePotID(params), encoded)
	if err != nil {
		return oracle.Capability{}, domain.NewError(domain.CodeInvalidInput, err.Error(), nil)
	}
	return c, nil
}

func parseADA(s string) (int64, error) {
	lovelace, ok := reporting.ParseADA(s)
	if !ok {
		return 0, domain.NewError(domain.CodeInvalidInput, "invalid ADA amount", map[string]any{"ada": s})
	}
	return lovelace, nil
}

func printOutcome(rec *domain.OutcomeRecord) {
	fmt.Printf("winner     = %s\n", rec.WinningOutcome)
	fmt.Printf("total_pot  = %s ADA\n", reporting.FormatADA(rec.TotalPotAda))
	fmt.Printf("win_stake  = %d\n", rec.TotalWinningStake)
	fmt.Printf("marker     = %s (burned=%v)\n", rec.MarkerFundID, rec.Burned)
}

func printSelection(sel *domain.Selection) {
	if sel == nil || sel.Count == 0 {
		fmt.Println("inputs        = none")
		return
	}
	fmt.Printf("inputs        = %d (%s ADA, change %s ADA, efficiency %.4f, dust=%v)\n",
		sel.Count, reporting.FormatADA(sel.TotalInput), reporting.FormatADA(sel.Change), sel.Efficiency, sel.Dust)
	for _, f := range sel.Funds {
		fmt.Printf("  %s %s ADA\n", f.FundID, reporting.FormatADA(f.Amount))
	}
}
