// Package config handles loading and validating the wash bay gateway configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (WASHGW_* and the bench names
//     MQTT_BROKER, BAY_IDS, MODBUS_HOST, MODBUS_PORT, MODBUS_UNIT_ID)
//   - Validation of required fields, collecting every problem at once
//   - Default value handling
//
// The order of gateway.bays is part of the PLC contract: a bay's position
// selects its holding register block.
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("WASHGW_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.Bays)
package config
