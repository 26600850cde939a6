package ctlab

import "context"

// ADAIO is the analog I/O module with eight DA12 outputs and eight AD16
// and AD10 inputs.
type ADAIO struct {
	Module
}

// NewADAIO creates an ADA-IO on the given bus ID.
func NewADAIO(bus *Bus, id int) *ADAIO {
	return &ADAIO{Module: newModule(bus, ModuleADAIO, id)}
}

// ChannelAddress returns the address of one analog channel.
func (a *ADAIO) ChannelAddress(channel int) Address {
	return Address{Type: ModuleADAIO, ID: a.id, Channel: channel}
}

// SetDA12 sets a DA12 output voltage (±10 V).
func (a *ADAIO) SetDA12(ctx context.Context, channel int, volts float64) error {
	return a.bus.SetVoltage(ctx, a.ChannelAddress(channel), volts)
}

// DA12 reads back a DA12 output setpoint.
func (a *ADAIO) DA12(ctx context.Context, channel int) (float64, error) {
	if err := a.checkChannel(channel); err != nil {
		return 0, err
	}
	return a.Query(ctx, ADAIODA12Base+channel)
}

// AD16 reads a 16 bit analog input.
func (a *ADAIO) AD16(ctx context.Context, channel int) (float64, error) {
	return a.bus.ReadVoltage(ctx, a.ChannelAddress(channel))
}

// AD10 reads a 10 bit analog input.
func (a *ADAIO) AD10(ctx context.Context, channel int) (float64, error) {
	if err := a.checkChannel(channel); err != nil {
		return 0, err
	}
	return a.Query(ctx, ADAIOAD10Base+channel)
}

// DisplayAD10 shows an AD10 input on the front panel.
func (a *ADAIO) DisplayAD10(ctx context.Context, channel int) error {
	return a.display(ctx, ADAIOAD10Base, channel)
}

// DisplayAD16 shows an AD16 input on the front panel.
func (a *ADAIO) DisplayAD16(ctx context.Context, channel int) error {
	return a.display(ctx, ADAIOAD16Base, channel)
}

// DisplayDA12 shows a DA12 output on the front panel.
func (a *ADAIO) DisplayDA12(ctx context.Context, channel int) error {
	return a.display(ctx, ADAIODA12Base, channel)
}

// Channel returns one DA12/AD16 channel pair as a source and meter.
func (a *ADAIO) Channel(channel int) (*AnalogChannel, error) {
	if err := a.checkChannel(channel); err != nil {
		return nil, err
	}
	return &AnalogChannel{adaio: a, channel: channel}, nil
}

func (a *ADAIO) display(ctx context.Context, base, channel int) error {
	if err := a.checkChannel(channel); err != nil {
		return err
	}
	return a.showMenu(ctx, base+channel)
}

func (a *ADAIO) checkChannel(channel int) error {
	return a.model.ValidateAddress(a.ChannelAddress(channel))
}

// AnalogChannel drives DA12 output n and senses AD16 input n.
type AnalogChannel struct {
	adaio   *ADAIO
	channel int
}

// Address returns the channel's module address.
func (c *AnalogChannel) Address() Address {
	return c.adaio.ChannelAddress(c.channel)
}

// SetVoltage sets the DA12 output.
func (c *AnalogChannel) SetVoltage(ctx context.Context, volts float64) error {
	return c.adaio.SetDA12(ctx, c.channel, volts)
}

// Setpoint reads back the DA12 output.
func (c *AnalogChannel) Setpoint(ctx context.Context) (float64, error) {
	return c.adaio.DA12(ctx, c.channel)
}

// ReadVoltage reads the AD16 input.
func (c *AnalogChannel) ReadVoltage(ctx context.Context) (float64, error) {
	return c.adaio.AD16(ctx, c.channel)
}

// Measure reads the AD16 input; the current is NaN.
func (c *AnalogChannel) Measure(ctx context.Context) (Measurement, error) {
	return c.adaio.bus.Measure(ctx, c.Address())
}
