// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package octopus

import (
	"sort"
	"strconv"
	"time"
)

type AccountSummary struct {
	Number string `json:"number"`
	Status string `json:"status"`
}

type Ledger struct {
	Balance    float64 `json:"balance"` // pence
	LedgerType string  `json:"ledgerType"`
}

type Account struct {
	Number     string     `json:"number"`
	Balance    float64    `json:"balance"` // pence
	Ledgers    []Ledger   `json:"ledgers"`
	Properties []Property `json:"properties"`
}

// BalancePounds converts the account balance from pennies to pounds
func (a *Account) BalancePounds() float64 {
	return a.Balance / 100.0
}

type Property struct {
	ID                     string       `json:"id"`
	Address                string       `json:"address"`
	ElectricityMeterPoints []MeterPoint `json:"electricityMeterPoints"`
}

type MeterPoint struct {
	MPAN       string      `json:"mpan"`
	Agreements []Agreement `json:"agreements"`
}

type Agreement struct {
	ValidFrom *time.Time `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo"`
	Tariff    Tariff     `json:"tariff"`
}

type Tariff struct {
	ProductCode string   `json:"productCode"`
	DisplayName string   `json:"displayName"`
	FullName    string   `json:"fullName"`
	Description string   `json:"description"`
	UnitRate    *float64 `json:"unitRate"` // pence per kWh incl. VAT, absent for half-hourly tariffs
}

// Product is a tariff the account is or was on.
type Product struct {
	Code        string     `json:"code"`
	DisplayName string     `json:"display_name"`
	FullName    string     `json:"full_name"`
	Description string     `json:"description"`
	UnitRate    *float64   `json:"unit_rate,omitempty"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
}

// Products lists the account's tariffs across all meter points, first
// agreement per product code wins.
func (a *Account) Products() []Product {
	if a == nil {
		return nil
	}
	seen := make(map[string]bool)
	var products []Product
	for _, property := range a.Properties {
		for _, point := range property.ElectricityMeterPoints {
			for _, agreement := range point.Agreements {
				code := agreement.Tariff.ProductCode
				if code == "" || seen[code] {
					continue
				}
				seen[code] = true
				products = append(products, Product{
					Code:        code,
					DisplayName: agreement.Tariff.DisplayName,
					FullName:    agreement.Tariff.FullName,
					Description: agreement.Tariff.Description,
					UnitRate:    agreement.Tariff.UnitRate,
					ValidFrom:   agreement.ValidFrom,
					ValidTo:     agreement.ValidTo,
				})
			}
		}
	}
	return products
}

type DeviceStatus struct {
	Current      string `json:"current"`
	CurrentState string `json:"currentState"`
	IsSuspended  bool   `json:"isSuspended"`
}

type ChargingPreferences struct {
	WeekdayTargetTime string `json:"weekdayTargetTime"`
	WeekdayTargetSoc  int    `json:"weekdayTargetSoc"`
	WeekendTargetTime string `json:"weekendTargetTime"`
	WeekendTargetSoc  int    `json:"weekendTargetSoc"`
	MinimumSoc        int    `json:"minimumSoc"`
	MaximumSoc        int    `json:"maximumSoc"`
}

type Device struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	DeviceType          string               `json:"deviceType"`
	Provider            string               `json:"provider"`
	Make                string               `json:"make,omitempty"`
	Model               string               `json:"model,omitempty"`
	Status              DeviceStatus         `json:"status"`
	ChargingPreferences *ChargingPreferences `json:"chargingPreferences,omitempty"`
}

type DispatchMeta struct {
	Source   string `json:"source"`
	Location string `json:"location"`
}

// Dispatch is a planned or completed low-cost charging window.
type Dispatch struct {
	Start time.Time    `json:"start"`
	End   time.Time    `json:"end"`
	Delta string       `json:"delta"` // API returns this as string, kWh
	Meta  DispatchMeta `json:"meta"`
}

// DeltaKWh parses the energy delta, 0 when unparsable
func (d Dispatch) DeltaKWh() float64 {
	if val, err := strconv.ParseFloat(d.Delta, 64); err == nil {
		return val
	}
	return 0.0
}

// Contains reports whether t falls inside [Start, End).
func (d Dispatch) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

type DispatchSchedule struct {
	Planned   []Dispatch `json:"planned"`
	Completed []Dispatch `json:"completed"`
}

// Active returns the planned dispatch covering now, if any.
func (s *DispatchSchedule) Active(now time.Time) *Dispatch {
	if s == nil {
		return nil
	}
	for i := range s.Planned {
		if s.Planned[i].Contains(now) {
			return &s.Planned[i]
		}
	}
	return nil
}

// Next returns the earliest planned dispatch starting after now.
func (s *DispatchSchedule) Next(now time.Time) *Dispatch {
	if s == nil {
		return nil
	}
	upcoming := make([]Dispatch, 0, len(s.Planned))
	for _, d := range s.Planned {
		if d.Start.After(now) {
			upcoming = append(upcoming, d)
		}
	}
	if len(upcoming) == 0 {
		return nil
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Start.Before(upcoming[j].Start) })
	return &upcoming[0]
}

// APIResult is everything the comprehensive query returned. A section is
// empty when the API could not provide it; Warnings and Errors say why.
type APIResult struct {
	Account             *Account          `json:"account,omitempty"`
	Devices             []Device          `json:"devices"`
	PlannedDispatches   []Dispatch        `json:"planned_dispatches"`
	CompletedDispatches []Dispatch        `json:"completed_dispatches"`
	Products            []Product         `json:"products"`
	Warnings            []ClassifiedError `json:"warnings,omitempty"`
	Errors              []ClassifiedError `json:"errors,omitempty"`
	FetchedAt           time.Time         `json:"fetched_at"`
}

// Schedule returns the dispatch sections as a DispatchSchedule.
func (r *APIResult) Schedule() *DispatchSchedule {
	return &DispatchSchedule{
		Planned:   r.PlannedDispatches,
		Completed: r.CompletedDispatches,
	}
}

// ChargePreferences are the targets accepted by SetVehicleChargePreferences.
type ChargePreferences struct {
	WeekdayTargetSoc  int
	WeekendTargetSoc  int
	WeekdayTargetTime string // HH:MM
	WeekendTargetTime string // HH:MM
}

// Validate checks state-of-charge percentages and target time format
func (p ChargePreferences) Validate() error {
	if p.WeekdayTargetSoc < 0 || p.WeekdayTargetSoc > 100 {
		return &ValidationError{Field: "weekday_target_soc", Value: p.WeekdayTargetSoc, Message: "must be between 0 and 100"}
	}
	if p.WeekendTargetSoc < 0 || p.WeekendTargetSoc > 100 {
		return &ValidationError{Field: "weekend_target_soc", Value: p.WeekendTargetSoc, Message: "must be between 0 and 100"}
	}
	if _, err := time.Parse("15:04", p.WeekdayTargetTime); err != nil {
		return &ValidationError{Field: "weekday_target_time", Value: p.WeekdayTargetTime, Message: "must be HH:MM"}
	}
	if _, err := time.Parse("15:04", p.WeekendTargetTime); err != nil {
		return &ValidationError{Field: "weekend_target_time", Value: p.WeekendTargetTime, Message: "must be HH:MM"}
	}
	return nil
}
