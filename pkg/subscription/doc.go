// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package subscription lets external consumers poll a query sink with
// structured filters under a per-subscriber events-per-second budget.
package subscription
