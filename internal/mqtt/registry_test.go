package mqtt

import "testing"

func TestDeviceRegistry_RegisterAndGet(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Register(&RegisteredDevice{
		LogicalID:     DeviceLatch,
		ControllerID:  "alchemy-io",
		Type:          "latch",
		CommandTopic:  "alchemy/io/latch/cmd",
		OutputSignals: []string{"pulse"},
	})

	dev := registry.Get(DeviceLatch)
	if dev == nil {
		t.Fatal("expected device")
	}
	if dev.CommandTopic != "alchemy/io/latch/cmd" {
		t.Errorf("unexpected command topic %q", dev.CommandTopic)
	}

	// Mutating the copy must not leak into the registry.
	dev.OutputSignals[0] = "open"
	if registry.Get(DeviceLatch).OutputSignals[0] != "pulse" {
		t.Error("registry returned shared slice")
	}

	if registry.Get("unknown") != nil {
		t.Error("expected nil for unknown device")
	}
}

func TestDeviceRegistry_ValidateCommand(t *testing.T) {
	registry := NewDeviceRegistry()
	registry.Register(&RegisteredDevice{LogicalID: DeviceDoorLock, CommandTopic: "lock/cmd", OutputSignals: []string{"lock", "unlock"}})
	registry.Register(&RegisteredDevice{LogicalID: "orphan", OutputSignals: []string{"lock"}})

	tests := []struct {
		name    string
		id      string
		signal  string
		wantErr bool
	}{
		{"supported", DeviceDoorLock, "lock", false},
		{"unsupported signal", DeviceDoorLock, "pulse", true},
		{"unknown device", "ghost", "lock", true},
		{"no command topic", "orphan", "lock", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, err := registry.ValidateCommand(tt.id, tt.signal)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if err == nil && topic != "lock/cmd" {
				t.Errorf("unexpected topic %q", topic)
			}
		})
	}
}

func TestDeviceRegistry_RegisterFromPayload(t *testing.T) {
	payload, err := ParseRegistration([]byte(ioRegistration))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	registry := NewDeviceRegistry()
	registry.RegisterFromPayload(payload)

	all := registry.All()
	if len(all) != 6 {
		t.Fatalf("expected 6 devices, got %d", len(all))
	}
	if all[0].LogicalID != DeviceBeam {
		t.Errorf("expected sorted output, first is %s", all[0].LogicalID)
	}

	reader := registry.Get(ReaderDevice(1))
	if reader.EventTopic != "alchemy/io/reader_1" || reader.ControllerID != "alchemy-io" {
		t.Errorf("unexpected reader: %+v", reader)
	}
	if registry.CommandTopic(DeviceLatch) != "alchemy/io/latch/cmd" {
		t.Errorf("unexpected latch topic %q", registry.CommandTopic(DeviceLatch))
	}

	registry.Clear()
	if registry.Exists(DeviceBeam) {
		t.Error("expected registry to be empty after Clear")
	}
}
