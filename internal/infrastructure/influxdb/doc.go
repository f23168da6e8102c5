// Package influxdb writes WattSync power telemetry to InfluxDB v2.
//
// Every device change the synchronizer reports becomes one device_power
// point tagged with house_id, device_id and device_type, carrying on (0/1)
// and power_watts. Push-channel status transitions are recorded in
// sync_connection.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDevicePower(dev, time.Now())
//
// Writes are batched according to batch_size and flush_interval; errors are
// delivered to the SetOnError callback.
package influxdb
