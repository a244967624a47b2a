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

const loginMutation = `mutation obtainKrakenToken($input: ObtainJSONWebTokenInput!) {
	obtainKrakenToken(input: $input) {
		token
		payload
		refreshToken
		refreshExpiresIn
	}
}`

const accountsQuery = `query viewerAccounts {
	viewer {
		accounts {
			number
			status
		}
	}
}`

const dispatchFields = `
		start
		end
		delta
		meta {
			source
			location
		}`

const deviceFields = `
		id
		name
		deviceType
		provider
		status {
			current
			currentState
			isSuspended
		}
		... on SmartFlexVehicle {
			make
			model
			chargingPreferences {
				weekdayTargetTime
				weekdayTargetSoc
				weekendTargetTime
				weekendTargetSoc
				minimumSoc
				maximumSoc
			}
		}`

const comprehensiveQuery = `query comprehensiveData($accountNumber: String!) {
	account(accountNumber: $accountNumber) {
		number
		balance
		ledgers {
			balance
			ledgerType
		}
		properties {
			id
			address
			electricityMeterPoints {
				mpan
				agreements(includeInactive: false) {
					validFrom
					validTo
					tariff {
						... on TariffType {
							productCode
							displayName
							fullName
							description
						}
						... on StandardTariff {
							unitRate
						}
					}
				}
			}
		}
	}
	devices(accountNumber: $accountNumber) {` + deviceFields + `
	}
	plannedDispatches(accountNumber: $accountNumber) {` + dispatchFields + `
	}
	completedDispatches(accountNumber: $accountNumber) {` + dispatchFields + `
	}
}`

const devicesQuery = `query devices($accountNumber: String!) {
	devices(accountNumber: $accountNumber) {` + deviceFields + `
	}
}`

const dispatchesQuery = `query dispatches($accountNumber: String!) {
	plannedDispatches(accountNumber: $accountNumber) {` + dispatchFields + `
	}
	completedDispatches(accountNumber: $accountNumber) {` + dispatchFields + `
	}
}`

const deviceSuspensionMutation = `mutation updateDeviceSmartControl($input: SmartControlInput!) {
	updateDeviceSmartControl(input: $input) {
		id
	}
}`

const chargePreferencesMutation = `mutation setVehicleChargePreferences($input: VehicleChargingPreferencesInput!) {
	setVehicleChargePreferences(input: $input) {
		krakenflexDevice {
			krakenflexDeviceId
		}
	}
}`
