// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package rank

// Default ranker parameter values, matching the shipped configuration.
const (
	DefaultSpreadFactor        = 1.0
	DefaultGroupStarterScore   = 0.001
	DefaultInstallBonus        = 0.3
	DefaultOutOfBoxBonus       = 0.005
	DefaultBonusFadePeriodDays = 0.5
)

const millisPerDay = 86400000.0

// Params supplies the tunable ranker parameters. Implementations may back
// these by refreshable configuration; values are read on every use so a
// refresh takes effect without restarting the ranker.
type Params interface {
	// SpreadFactor controls how fast relevance decays with a card's
	// position inside its source's own card set.
	SpreadFactor() float64

	// GroupStarterScore is the aggregate score assigned to a group with
	// no engagement history yet.
	GroupStarterScore() float64

	// InstallBonus is the one-shot bonus granted on first open after
	// install.
	InstallBonus() float64

	// OutOfBoxBonus is the total bonus pool shared by out-of-box seeded
	// sources.
	OutOfBoxBonus() float64

	// BonusFadePeriodDays is the linear fade period for bonuses, in days.
	BonusFadePeriodDays() float64
}

// bonusFadePeriodMillis converts the configured fade period to milliseconds.
func bonusFadePeriodMillis(p Params) float64 {
	return p.BonusFadePeriodDays() * millisPerDay
}

// StaticParams is a fixed Params implementation. Zero fields fall back to
// the package defaults, so StaticParams{} behaves like DefaultParams().
type StaticParams struct {
	Spread       float64
	StarterScore float64
	Install      float64
	OutOfBox     float64
	FadeDays     float64
}

// DefaultParams returns the default parameter set.
func DefaultParams() StaticParams {
	return StaticParams{
		Spread:       DefaultSpreadFactor,
		StarterScore: DefaultGroupStarterScore,
		Install:      DefaultInstallBonus,
		OutOfBox:     DefaultOutOfBoxBonus,
		FadeDays:     DefaultBonusFadePeriodDays,
	}
}

// SpreadFactor implements Params.
func (p StaticParams) SpreadFactor() float64 {
	if p.Spread == 0 {
		return DefaultSpreadFactor
	}
	return p.Spread
}

// GroupStarterScore implements Params.
func (p StaticParams) GroupStarterScore() float64 {
	if p.StarterScore == 0 {
		return DefaultGroupStarterScore
	}
	return p.StarterScore
}

// InstallBonus implements Params.
func (p StaticParams) InstallBonus() float64 {
	if p.Install == 0 {
		return DefaultInstallBonus
	}
	return p.Install
}

// OutOfBoxBonus implements Params.
func (p StaticParams) OutOfBoxBonus() float64 {
	if p.OutOfBox == 0 {
		return DefaultOutOfBoxBonus
	}
	return p.OutOfBox
}

// BonusFadePeriodDays implements Params.
func (p StaticParams) BonusFadePeriodDays() float64 {
	if p.FadeDays == 0 {
		return DefaultBonusFadePeriodDays
	}
	return p.FadeDays
}
