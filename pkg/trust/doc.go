// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package trust is the entry point an agent runtime uses: it authorizes
// capabilities against layered policy, gates model calls on circuit health
// and records both in the audit trail.
package trust
