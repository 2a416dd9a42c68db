// Package app composes the raffle daemon.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── workers.go          # Background services run by the system manager
//	├── storage/            # Snapshot and winner-history stores
//	│   ├── interfaces.go   # Store interfaces
//	│   ├── memory/         # In-memory implementation for tests and localnet
//	│   ├── postgres/       # PostgreSQL implementation (sqlx)
//	│   └── redis/          # Redis implementation
//	├── httpapi/            # HTTP API handlers, routing and event stream
//	├── system/             # Ordered start/stop of background services
//	└── metrics/            # Prometheus metrics
//
// # Responsibilities
//
// The app package builds the raffle, its GAS ledger, the local randomness
// coordinator and the keeper from configuration, restores the last snapshot
// and starts:
//
//   - the winner recorder, which copies WinnerPicked events into history
//   - the checkpointer, which saves snapshots periodically and on shutdown
//   - the coordinator's delivery worker when auto-fulfilment is enabled
//   - the keeper when automation is enabled
//   - the HTTP server
//
// Business rules live in internal/raffle; this package only wires.
package app
