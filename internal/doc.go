// Package linky implements a statistics sync service for Linky electricity
// meters read through the Conso API.
//
// # Architecture
//
// The service is structured into several key packages:
//   - api: Conso API client and the tiered history fetcher
//   - statistics: Normalization, hourly aggregation and running sums
//   - cost: Price rules and the cost series derived from energy
//   - pricehistory: Recorded prices of external price entities
//   - coordinator: Per-meter sync state machine, CSV import and the manager
//   - database: SQLite or Postgres/TimescaleDB statistics storage
//   - scheduler: Daily sync slots at 06:MM:SS and 09:MM:SS
//   - grpc: MeterService, health checks and interceptors
//   - admin: HTTP administration and the Prometheus endpoint
//   - config, metrics, models: Shared plumbing
//
// Key Features
//
//   - Historical Data:
//     The first sync of a meter imports up to a year of history, using
//     the 30 minute load curve for the last week and daily totals before.
//
//   - Incremental Sync:
//     Later syncs resume the day after the last stored hour and continue
//     the cumulative sums of both the energy and the cost series.
//
//   - Costs:
//     Each hour is priced by the first matching rule, either a fixed price
//     or the recorded state of a price entity.
//
// Example Usage
//
//	in, _ := structpb.NewStruct(map[string]interface{}{
//	    "prm":   "12345678901234",
//	    "start": "2024-06-01T00:00:00+02:00",
//	    "end":   "2024-06-02T00:00:00+02:00",
//	})
//	out := new(structpb.Struct)
//	err := conn.Invoke(ctx, "/linky.v1.MeterService/QueryStatistics", in, out)
//
// For more information about specific packages, see their respective
// documentation.
package linky
