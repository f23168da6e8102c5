// Package mqtt connects WattSync to a local MQTT broker.
//
// The relay publishes the synchronizer's view of a house so that other
// local consumers (dashboards, home automation) can follow device state
// without talking to the backend themselves:
//
//	wattsync/house/{h}/device/{d}/state    retained JSON device
//	wattsync/house/{h}/connection          retained {"status": "..."}
//	wattsync/house/{h}/device/{d}/toggle   inbound toggle command
//	wattsync/system/status                 online/offline + LWT
//
// Broker reconnects are handled by paho with exponential backoff between
// mqtt.reconnect.initial_delay and mqtt.reconnect.max_delay. Subscriptions
// are restored after each reconnect. Handlers run with panic recovery.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceToggles(7), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
