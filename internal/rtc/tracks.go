package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicelink/internal/core"
)

// TrackRegistration maps one local media track to its sender handle,
// capture source and shared processing context. Created on add, replaced
// atomically on device switch, deleted on remove.
type TrackRegistration struct {
	ID     string
	Sender *webrtc.RTPSender
	Local  webrtc.TrackLocal
	Source core.AudioTrack
	Meta   map[string]string
}

// AddAudioTrack registers a local track on the peer connection. The sender
// side is owned by the transport from here on; the capture side stays with
// the caller's track manager.
func (t *Transport) AddAudioTrack(local webrtc.TrackLocal, source core.AudioTrack, proc *core.ProcessingContext, meta map[string]string) (string, error) {
	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()

	id := local.ID()
	reg := &TrackRegistration{ID: id, Local: local, Source: source, Meta: meta}

	if pc != nil {
		sender, err := pc.AddTrack(local)
		if err != nil {
			return "", core.WrapFault(core.FaultTrackFailed, "add track", err)
		}
		reg.Sender = sender
	}

	t.mu.Lock()
	t.tracks[id] = reg
	// One registration holds the context reference for cleanup.
	if proc != nil && t.procRef == nil {
		t.procRef = proc
	}
	t.mu.Unlock()

	t.logger.Info().Str("track_id", id).Msg("local track registered")
	t.bus.Emit(core.EventAudioTrackAdded, core.TrackPayload{TrackID: id, Local: true})
	return id, nil
}

// ReplaceAudioTrack swaps the media feeding an existing registration.
// An in-place sender-level swap is preferred; remove-then-add is the
// fallback when the sender cannot replace. A non-nil proc supersedes the
// held processing context; with a nil proc the held context survives the
// swap untouched.
func (t *Transport) ReplaceAudioTrack(id string, local webrtc.TrackLocal, source core.AudioTrack, proc *core.ProcessingContext) error {
	t.mu.Lock()
	reg, ok := t.tracks[id]
	t.mu.Unlock()
	if !ok {
		return core.NewFault(core.FaultTrackFailed, "no registration for track "+id)
	}

	oldSource := reg.Source
	if reg.Sender != nil {
		if err := reg.Sender.ReplaceTrack(local); err == nil {
			t.mu.Lock()
			delete(t.tracks, id)
			reg.Local = local
			reg.Source = source
			reg.ID = local.ID()
			t.tracks[reg.ID] = reg
			oldProc := t.procRef
			if proc != nil {
				t.procRef = proc
			}
			t.mu.Unlock()
			if proc != nil && oldProc != nil && oldProc != proc {
				oldProc.Release()
			}
			t.stopSource(oldSource, id)
			t.logger.Info().Str("track_id", reg.ID).Msg("track replaced in place")
			return nil
		}
		t.logger.Warn().Str("track_id", id).Msg("in-place replace unsupported, falling back to remove+add")
	}

	// The registry is transiently empty between the remove and the add;
	// the held context must not be released in that gap.
	if proc == nil {
		if err := t.removeAudioTrack(id, false); err != nil {
			return err
		}
		_, err := t.AddAudioTrack(local, source, nil, reg.Meta)
		return err
	}
	if err := t.RemoveAudioTrack(id); err != nil {
		return err
	}
	_, err := t.AddAudioTrack(local, source, proc, reg.Meta)
	return err
}

// RemoveAudioTrack detaches and stops a registered track. The shared
// processing context is released once no registrations remain.
func (t *Transport) RemoveAudioTrack(id string) error {
	return t.removeAudioTrack(id, true)
}

func (t *Transport) removeAudioTrack(id string, releaseProc bool) error {
	t.mu.Lock()
	reg, ok := t.tracks[id]
	if ok {
		delete(t.tracks, id)
	}
	empty := len(t.tracks) == 0
	var proc *core.ProcessingContext
	if empty && releaseProc {
		proc = t.procRef
		t.procRef = nil
	}
	pc := t.pc
	t.mu.Unlock()

	if !ok {
		return core.NewFault(core.FaultTrackFailed, "no registration for track "+id)
	}

	if pc != nil && reg.Sender != nil {
		if err := pc.RemoveTrack(reg.Sender); err != nil {
			t.logger.Error().Err(err).Str("track_id", id).Msg("remove sender")
		}
	}
	t.stopSource(reg.Source, id)
	if proc != nil {
		proc.Release()
	}

	t.bus.Emit(core.EventAudioTrackRemoved, core.TrackPayload{TrackID: id, Local: true})
	return nil
}

// RegisteredTracks returns a snapshot of current registration ids.
func (t *Transport) RegisteredTracks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.tracks))
	for id := range t.tracks {
		out = append(out, id)
	}
	return out
}

func (t *Transport) stopSource(source core.AudioTrack, id string) {
	if source == nil {
		return
	}
	if err := source.Stop(); err != nil {
		t.logger.Error().Err(err).Str("track_id", id).Msg("stop source track")
	}
}

// reattachTracks re-adds every registration to a fresh peer connection
// (full reconnect path keeps registrations alive across sessions).
func (t *Transport) reattachTracks(pc *webrtc.PeerConnection) error {
	t.mu.Lock()
	regs := make([]*TrackRegistration, 0, len(t.tracks))
	for _, reg := range t.tracks {
		regs = append(regs, reg)
	}
	t.mu.Unlock()

	for _, reg := range regs {
		sender, err := pc.AddTrack(reg.Local)
		if err != nil {
			return err
		}
		t.mu.Lock()
		reg.Sender = sender
		t.mu.Unlock()
	}
	return nil
}
