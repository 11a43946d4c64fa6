package discovery

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const displayIDLength = 8

// Aggregator accumulates discovered devices for one session. Add and Publish
// are called from the scheduler goroutine only; Snapshot may be called from
// anywhere and returns the last published copy.
type Aggregator struct {
	devices   []Device
	index     map[string]int
	published atomic.Pointer[[]Device]
	finalized bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{index: make(map[string]int)}
	empty := []Device{}
	a.published.Store(&empty)
	return a
}

// Add maps a probe result into a device. The boolean reports whether the
// device list changed. Unreachable results are ignored.
func (a *Aggregator) Add(result ProbeResult, seenAt time.Time) (Device, bool, error) {
	if a.finalized {
		return Device{}, false, ErrAggregatorClosed
	}
	if !result.Reachable {
		return Device{}, false, nil
	}
	if result.Address == "" {
		return Device{}, false, fmt.Errorf("%w: empty address", ErrMalformedResult)
	}
	if result.Recognized && result.Identity == nil {
		return Device{}, false, fmt.Errorf("%w: %s recognized without identity", ErrMalformedResult, result.Address)
	}

	device := deviceFromResult(result, seenAt)

	if idx, ok := a.index[result.Address]; ok {
		existing := a.devices[idx]
		if existing.Classification == ClassGeneric && device.Classification == ClassRecognized {
			a.devices[idx] = device
			return device, true, nil
		}
		existing.LastSeen = seenAt
		a.devices[idx] = existing
		return existing, false, nil
	}

	a.index[result.Address] = len(a.devices)
	a.devices = append(a.devices, device)
	return device, true, nil
}

// Publish stores and returns an immutable copy of the current device list.
func (a *Aggregator) Publish() []Device {
	snapshot := make([]Device, len(a.devices))
	copy(snapshot, a.devices)
	a.published.Store(&snapshot)
	return snapshot
}

// Snapshot returns the last published device list.
func (a *Aggregator) Snapshot() []Device {
	current := *a.published.Load()
	out := make([]Device, len(current))
	copy(out, current)
	return out
}

// Len returns the number of devices accumulated so far.
func (a *Aggregator) Len() int {
	return len(a.devices)
}

// Finalize publishes the list a last time and closes the aggregator.
func (a *Aggregator) Finalize() Summary {
	devices := a.Publish()
	a.finalized = true
	return Summary{Count: len(devices), Devices: devices}
}

func deviceFromResult(result ProbeResult, seenAt time.Time) Device {
	if result.Recognized {
		return Device{
			ID:              result.Identity.DeviceID,
			Address:         result.Address,
			DisplayName:     "Terminal " + truncateID(result.Identity.DeviceID),
			Classification:  ClassRecognized,
			FirmwareVersion: result.Identity.FirmwareVersion,
			Online:          result.Identity.IsOnline,
			LastSeen:        seenAt,
		}
	}
	return Device{
		ID:             "generic-" + result.Address,
		Address:        result.Address,
		DisplayName:    "HTTP device (" + result.Address + ")",
		Classification: ClassGeneric,
		TypeTag:        GenericTypeTag,
		Online:         true,
		LastSeen:       seenAt,
	}
}

func truncateID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	runes := []rune(id)
	if len(runes) <= displayIDLength {
		return id
	}
	return string(runes[:displayIDLength])
}
