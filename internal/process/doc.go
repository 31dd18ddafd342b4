// Package process supervises the ffmpeg subprocesses that act as the capture
// and codec collaborators.
//
// A Process exposes the child's stdin and stdout as binary streams (raw frames
// in, raw frames or H.264 out) while stderr is parsed line by line and routed
// into the module logger. Stop closes stdin first so an encoder can drain its
// buffered frames, then escalates to SIGINT and finally SIGKILL.
//
//	p := process.New("encoder", "ffmpeg -f rawvideo ... pipe:1", logger)
//	p.SetLogParser(ffmpegLogger, ffmpeg.ParseLogLine)
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Stop()
package process
