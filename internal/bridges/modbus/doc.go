// Package modbus bridges the gateway to the wash PLC over Modbus TCP.
//
// Each bay owns a block of BlockSize holding registers, assigned in the
// order bays are configured:
//
//	offset 0  COMMAND   written by the gateway (0 none, 1 start, 2 stop)
//	offset 1  COURSE    written by the gateway, read back (1..4)
//	offset 2  STATUS    0 idle, 1 washing, 2 completed, 3 canceled, 4 error
//	offset 3  PROGRESS  0..100
//	offset 4  ERROR     controller error code, 0 when none
//
// Driver is the contract the gateway uses. TCPDriver implements it with
// github.com/goburrow/modbus; Simulator implements it in process for
// bench runs without hardware.
//
//	d := modbus.NewTCPDriver(modbus.TCPConfig{
//	    Address: "10.0.0.5:502",
//	    UnitID:  1,
//	    Timeout: 2 * time.Second,
//	})
//	if err := d.Connect(ctx); err != nil {
//	    return err
//	}
//	block, err := d.ReadRegisters(ctx, 0, modbus.BlockSize)
//	reading, err := modbus.Decode(block)
package modbus
