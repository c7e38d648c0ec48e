package relay

// publish renders and atomically writes the output playlist for window,
// skipping entirely when window is empty (spec.md §4.5: "tick publishes
// that would yield an empty playlist are skipped").
func publish(playlistPath string, targetDuration int, window []Segment) error {
	if len(window) == 0 {
		return nil
	}

	data, err := renderOutputPlaylist(targetDuration, window)
	if err != nil {
		return err
	}

	return atomicWriteFile(playlistPath, data)
}
