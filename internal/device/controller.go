package device

import "github.com/servo-bridge/backend/internal/models"

// InputKind groups normalised controller inputs.
type InputKind int

const (
	InputButton  InputKind = iota // Pressed
	InputAxis                     // Value in [-1, 1]
	InputTrigger                  // Value in [0, 1]
	InputHat                      // Value in {-1, 0, 1}
)

// Input names a control independent of the vendor's key codes.
type Input string

const (
	InputLeftX        Input = "left_x"
	InputLeftY        Input = "left_y"
	InputRightX       Input = "right_x"
	InputRightY       Input = "right_y"
	InputLeftTrigger  Input = "left_trigger"
	InputRightTrigger Input = "right_trigger"
	InputDPadX        Input = "dpad_x"
	InputDPadY        Input = "dpad_y"
	InputA            Input = "a"
	InputB            Input = "b"
	InputX            Input = "x"
	InputY            Input = "y"
	InputLB           Input = "lb"
	InputRB           Input = "rb"
	InputStart        Input = "start"
	InputSelect       Input = "select"
)

// ControllerEvent is one normalised input change.
type ControllerEvent struct {
	Kind    InputKind
	Input   Input
	Value   float64
	Pressed bool
}

// Button returns a button press or release event.
func Button(in Input, pressed bool) ControllerEvent {
	return ControllerEvent{Kind: InputButton, Input: in, Pressed: pressed}
}

// Axis returns a stick event.
func Axis(in Input, v float64) ControllerEvent {
	return ControllerEvent{Kind: InputAxis, Input: in, Value: v}
}

// Trigger returns an analogue trigger event.
func Trigger(in Input, v float64) ControllerEvent {
	return ControllerEvent{Kind: InputTrigger, Input: in, Value: v}
}

// Hat returns a d-pad event.
func Hat(in Input, v float64) ControllerEvent {
	return ControllerEvent{Kind: InputHat, Input: in, Value: v}
}

// Controller is a game controller.
type Controller interface {
	Presence
	// Poll drains the events received since the previous call.
	// ErrNoController means no device is attached.
	Poll() ([]ControllerEvent, error)
}

// NoController is used when controller input is disabled.
type NoController struct{}

func (NoController) Initialize() models.DeviceStatus  { return models.StatusDisconnected }
func (NoController) Close() error                     { return nil }
func (NoController) Poll() ([]ControllerEvent, error) { return nil, ErrNoController }
