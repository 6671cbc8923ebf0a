//go:build rp2040

// Command tracker is the RP2040 firmware: RAK3172 modem on UART0, GNSS on
// UART1, AT24 EEPROM on I2C0 for session and counter state.
package main

import (
	"context"
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"tracker-go/bus"
	"tracker-go/drivers/at24"
	"tracker-go/drivers/rak3172"
	"tracker-go/errcode"
	"tracker-go/gnss"
	"tracker-go/nvs/eeprom"
	"tracker-go/services/config"
	"tracker-go/services/heartbeat"
	"tracker-go/services/tracker"
	"tracker-go/x/serialx"
	"tracker-go/x/timex"
)

// Board wiring (Pico GP numbers).
const (
	pinModemTX = machine.Pin(0)
	pinModemRX = machine.Pin(1)
	pinGNSSTX  = machine.Pin(4)
	pinGNSSRX  = machine.Pin(5)
	pinAlert   = machine.Pin(14) // power-fail comparator, active low
	pinButton  = machine.Pin(15) // active low
	pinDisplay = machine.Pin(16) // display supply enable
	pinGNSSPwr = machine.Pin(17)

	modemBaud = 115200
	gnssBaud  = 9600
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot")

	modem := openUART(uartx.UART0, pinModemTX, pinModemRX, serialx.Format{Baud: modemBaud})
	gps := openUART(uartx.UART1, pinGNSSTX, pinGNSSRX, serialx.Format{Baud: gnssBaud})

	i2c := machine.I2C0
	_ = i2c.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})
	rom, err := at24.New(i2c, at24.DefaultConfig())
	if err != nil {
		halt("eeprom: " + err.Error())
	}
	nv, err := eeprom.Open(rom, eeprom.Config{})
	if err != nil {
		halt("nvs: " + err.Error())
	}

	cfg, err := config.Lookup("pico")
	if err != nil {
		halt("config: " + err.Error())
	}

	board := newBoard()
	b := bus.NewBus(8)
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "pico")
	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	_ = (&heartbeat.Service{Interval: 30 * time.Second}).Start(ctx, b.NewConnection("heartbeat"))

	svc, err := tracker.New(tracker.Deps{
		MAC:        rak3172.New(modem, timex.System, rak3172.Config{}),
		GNSS:       gnss.NewNMEASource(gps),
		NV:         nv,
		Platform:   board,
		Button:     board.pressed,
		PowerAlert: &board.alert,
		Conn:       b.NewConnection("tracker"),
	}, cfg)
	if err != nil {
		halt("tracker: " + err.Error())
	}
	svc.RegisterObserver(tracker.LogObserver{})

	if err := svc.Boot(tracker.WakeSource{ColdBoot: true}); err != nil {
		if errcode.Of(err) == errcode.RadioAbsent {
			halt("radio not responding")
		}
		println("[main] boot:", err.Error())
	}
	if err := svc.Run(ctx); err != nil {
		println("[main] run:", err.Error())
	}
}

// halt parks the core after a fatal boot error, blinking the onboard LED.
func halt(msg string) {
	println("[main] halted:", msg)
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.Set(!led.Get())
		time.Sleep(250 * time.Millisecond)
	}
}
