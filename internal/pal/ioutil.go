package pal

import "context"

// ReadFull reads exactly len(buf) bytes from s, waiting for readiness
// between short reads. It is the Go-idiomatic replacement for the
// original's retry-and-grow read loop: io.ReadFull's contract (a short
// read is not itself an error) plus an explicit WaitReady between
// attempts removes the need to ever pre-size or double a scratch buffer.
func ReadFull(ctx context.Context, s Stream, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := s.WaitReady(ctx); err != nil {
			return err
		}
		n, err := s.Read(ctx, 0, buf[read:])
		read += n
		if err != nil {
			if read == len(buf) {
				return nil
			}
			return err
		}
	}
	return nil
}

// WriteFull writes every byte of buf to s, looping over short writes.
func WriteFull(ctx context.Context, s Stream, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := s.Write(ctx, 0, buf[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
