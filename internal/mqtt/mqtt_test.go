package mqtt

import "testing"

func TestNormalizeBrokerURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"mqtt://mosquitto:1883", "tcp://mosquitto:1883"},
		{"mqtts://broker.example:8883", "ssl://broker.example:8883"},
		{"tcp://mosquitto:1883", "tcp://mosquitto:1883"},
		{"ssl://broker.example:8883", "ssl://broker.example:8883"},
		{"  mqtt://mosquitto:1883  ", "tcp://mosquitto:1883"},
	}
	for _, c := range cases {
		if got := normalizeBrokerURL(c.in); got != c.want {
			t.Fatalf("normalizeBrokerURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
