package main

// RemoteDevice plays audio in the connected browsers. Commands are broadcast
// as "device_command" frames over the state websocket; the page reports back
// with time_update, ended and play_rejected frames tagged with the source URL.
//
// Autoplay refusals surface asynchronously as play_rejected, so Play never
// fails here.
type RemoteDevice struct {
	hub *Hub
}

type wsDeviceCommandData struct {
	Command string `json:"command"`
	URL     string `json:"url,omitempty"`
	Volume  *int   `json:"volume,omitempty"`
}

func NewRemoteDevice(hub *Hub) *RemoteDevice {
	return &RemoteDevice{hub: hub}
}

func (d *RemoteDevice) send(data wsDeviceCommandData) error {
	if d.hub == nil {
		return ErrNoDevice
	}
	return d.hub.BroadcastEvent("device_command", data)
}

func (d *RemoteDevice) SetSource(url string) error {
	return d.send(wsDeviceCommandData{Command: "set_source", URL: url})
}

func (d *RemoteDevice) Play() error  { return d.send(wsDeviceCommandData{Command: "play"}) }
func (d *RemoteDevice) Pause() error { return d.send(wsDeviceCommandData{Command: "pause"}) }
func (d *RemoteDevice) Stop() error  { return d.send(wsDeviceCommandData{Command: "stop"}) }

func (d *RemoteDevice) SetVolume(percent int) error {
	v := clampVolume(percent)
	return d.send(wsDeviceCommandData{Command: "set_volume", Volume: &v})
}

func (d *RemoteDevice) Close() error { return nil }
