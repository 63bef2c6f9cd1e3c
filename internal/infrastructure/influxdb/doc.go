// Package influxdb provides InfluxDB connectivity for the Deocean bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and batched point writing. The bridge uses
// it to record gateway link counters (frames, retries, reconnects); device
// state is not stored.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePoint("deocean_link", tags, fields)
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; batch errors are delivered to the SetOnError callback.
// Connection errors are returned directly.
package influxdb
