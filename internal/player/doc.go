// Package player supervises the external media player of a radio device.
//
// A Player runs at most one player process at a time. Play replaces the
// current stream, Stop ends it with SIGTERM and escalates to SIGKILL after
// a grace period. A stream that dies on its own (network drop, decoder
// crash) is restarted with exponential backoff up to a restart budget.
//
//	p := player.New(player.Config{
//	    Binary: "/usr/bin/mpv",
//	    Args:   []string{"--no-video", "--really-quiet"},
//	})
//	p.SetVolume(60)
//	if err := p.Play(ctx, "https://stream.example/jazz"); err != nil {
//	    return err
//	}
//	defer p.Stop()
//
// Audio decoding is the player binary's job; this package only manages its
// lifecycle.
package player
