package control

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/kittymode/internal/controller"
)

// duration marshals as a Go duration string ("800ms").
type duration time.Duration

func (d duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"200ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// settingsDoc is the wire form of [controller.Settings]. Keys match the YAML
// config.
type settingsDoc struct {
	Capture struct {
		Window             duration `json:"window"`
		ExtensionThreshold duration `json:"extension_threshold"`
		MaxDuration        duration `json:"max_duration"`
	} `json:"capture"`
	Output struct {
		TypingDelay     duration `json:"typing_delay"`
		DeleteDelay     duration `json:"delete_delay"`
		PhasePause      duration `json:"phase_pause"`
		PressEnterAfter bool     `json:"press_enter_after"`
		EnterPause      duration `json:"enter_pause"`
	} `json:"output"`
	Suppression struct {
		MinSettle   duration `json:"min_settle"`
		MinInterval duration `json:"min_interval"`
		Failsafe    duration `json:"failsafe"`
	} `json:"suppression"`
	Match struct {
		Workers int `json:"workers"`
	} `json:"match"`
	CustomNoises []string `json:"custom_noises"`
}

func docFromSettings(s controller.Settings) settingsDoc {
	var d settingsDoc
	d.Capture.Window = duration(s.Capture.Window)
	d.Capture.ExtensionThreshold = duration(s.Capture.ExtensionThreshold)
	d.Capture.MaxDuration = duration(s.Capture.MaxDuration)
	d.Output.TypingDelay = duration(s.Output.TypingDelay)
	d.Output.DeleteDelay = duration(s.Output.DeleteDelay)
	d.Output.PhasePause = duration(s.Output.PhasePause)
	d.Output.PressEnterAfter = s.Output.PressEnterAfter
	d.Output.EnterPause = duration(s.Output.EnterPause)
	d.Suppression.MinSettle = duration(s.Suppression.MinSettle)
	d.Suppression.MinInterval = duration(s.Suppression.MinInterval)
	d.Suppression.Failsafe = duration(s.Suppression.Failsafe)
	d.Match.Workers = s.Workers
	d.CustomNoises = s.CustomNoises
	if d.CustomNoises == nil {
		d.CustomNoises = []string{}
	}
	return d
}

// settings converts back. The emitter settle time follows the suppression
// settle time, as it does for the YAML config.
func (d settingsDoc) settings() controller.Settings {
	var s controller.Settings
	s.Capture.Window = time.Duration(d.Capture.Window)
	s.Capture.ExtensionThreshold = time.Duration(d.Capture.ExtensionThreshold)
	s.Capture.MaxDuration = time.Duration(d.Capture.MaxDuration)
	s.Output.TypingDelay = time.Duration(d.Output.TypingDelay)
	s.Output.DeleteDelay = time.Duration(d.Output.DeleteDelay)
	s.Output.PhasePause = time.Duration(d.Output.PhasePause)
	s.Output.PressEnterAfter = d.Output.PressEnterAfter
	s.Output.EnterPause = time.Duration(d.Output.EnterPause)
	s.Output.MinSettle = time.Duration(d.Suppression.MinSettle)
	s.Suppression.MinSettle = time.Duration(d.Suppression.MinSettle)
	s.Suppression.MinInterval = time.Duration(d.Suppression.MinInterval)
	s.Suppression.Failsafe = time.Duration(d.Suppression.Failsafe)
	s.Workers = d.Match.Workers
	s.CustomNoises = d.CustomNoises
	return s
}
