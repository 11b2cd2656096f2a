// Package ioloop drives the single-threaded, readiness-based copy loop
// between stdin and stdout, advancing read and write cursors over the
// page manager's pages.
package ioloop

import (
	"errors"
	"fmt"
	"log"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"petabuf/internal/pagebuf"
)

// Loop owns the two cursors and drives pagebuf.Manager through its
// pin/unpin/free lifecycle as bytes flow from inFD to outFD. Cursors,
// counters and the page table are all owned exclusively by Run — there
// is no locking and Run must never be called concurrently with itself.
type Loop struct {
	mgr   *pagebuf.Manager
	inFD  int
	outFD int
	log   *log.Logger

	rpos, wpos pagebuf.Addr
	inputOpen  bool

	bytesIn, bytesOut uint64
}

// New creates a Loop over the given page manager and raw file
// descriptors. inFD and outFD are placed in non-blocking mode by Run.
func New(mgr *pagebuf.Manager, inFD, outFD int, logger *log.Logger) *Loop {
	return &Loop{mgr: mgr, inFD: inFD, outFD: outFD, log: logger}
}

// Run copies bytes from inFD to outFD until end-of-input is observed and
// the buffer has fully drained, or a fatal error occurs.
func (l *Loop) Run() error {
	if err := unix.SetNonblock(l.inFD, true); err != nil {
		return fmt.Errorf("ioloop: set stdin non-blocking: %w", err)
	}
	if err := unix.SetNonblock(l.outFD, true); err != nil {
		return fmt.Errorf("ioloop: set stdout non-blocking: %w", err)
	}

	if err := l.mgr.Pin(0); err != nil {
		return fmt.Errorf("ioloop: %w", err)
	}
	l.inputOpen = true

	for {
		ntoread := 0
		if l.inputOpen {
			ntoread = pagebuf.PageSize - int(l.rpos.Off)
		}

		var ntowrite int
		if l.wpos.Idx < l.rpos.Idx {
			ntowrite = pagebuf.PageSize - int(l.wpos.Off)
		} else {
			ntowrite = int(l.rpos.Off - l.wpos.Off)
		}

		if ntoread == 0 && ntowrite == 0 {
			break
		}

		var fds []unix.PollFd
		readSlot, writeSlot := -1, -1
		if ntoread > 0 {
			fds = append(fds, unix.PollFd{Fd: int32(l.inFD), Events: unix.POLLIN})
			readSlot = len(fds) - 1
		}
		if ntowrite > 0 {
			fds = append(fds, unix.PollFd{Fd: int32(l.outFD), Events: unix.POLLOUT})
			writeSlot = len(fds) - 1
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("ioloop: poll: %w", err)
		}

		// Read before write: a read in this wakeup may make additional
		// bytes available to the write below, in the same iteration.
		if readSlot >= 0 && fds[readSlot].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			if err := l.doRead(ntoread); err != nil {
				return err
			}
		}
		if writeSlot >= 0 && fds[writeSlot].Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			if err := l.doWrite(ntowrite); err != nil {
				return err
			}
		}
	}

	l.log.Printf("drained: %s in, %s out", humanize.Bytes(l.bytesIn), humanize.Bytes(l.bytesOut))
	return nil
}

func (l *Loop) doRead(ntoread int) error {
	buf, err := l.mgr.Ptr(l.rpos)
	if err != nil {
		return fmt.Errorf("ioloop: %w", err)
	}
	n, err := unix.Read(l.inFD, buf[:ntoread])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("ioloop: read stdin: %w", err)
	}
	if n == 0 {
		l.inputOpen = false
		l.log.Printf("end of input after %s", humanize.Bytes(l.bytesIn))
		return nil
	}

	l.bytesIn += uint64(n)
	l.rpos.Off += uint32(n)
	if l.rpos.Off != pagebuf.PageSize {
		return nil
	}

	if l.rpos.Idx != l.wpos.Idx {
		if err := l.mgr.Unpin(l.rpos.Idx); err != nil {
			return fmt.Errorf("ioloop: %w", err)
		}
	}
	next := l.rpos.Idx + 1
	if next >= pagebuf.TableSize {
		return fmt.Errorf("ioloop: page table exhausted at idx %d", next)
	}
	if err := l.mgr.Pin(next); err != nil {
		return fmt.Errorf("ioloop: %w", err)
	}
	l.rpos.Idx = next
	l.rpos.Off = 0
	l.logDiag()
	return nil
}

func (l *Loop) doWrite(ntowrite int) error {
	buf, err := l.mgr.Ptr(l.wpos)
	if err != nil {
		return fmt.Errorf("ioloop: %w", err)
	}
	n, err := unix.Write(l.outFD, buf[:ntowrite])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("ioloop: write stdout: %w", err)
	}
	if n == 0 {
		return nil
	}

	l.bytesOut += uint64(n)
	l.wpos.Off += uint32(n)
	if l.wpos.Off != pagebuf.PageSize {
		return nil
	}

	if err := l.mgr.Unpin(l.wpos.Idx); err != nil {
		return fmt.Errorf("ioloop: %w", err)
	}
	if err := l.mgr.Free(l.wpos.Idx); err != nil {
		return fmt.Errorf("ioloop: %w", err)
	}
	next := l.wpos.Idx + 1
	if err := l.mgr.Pin(next); err != nil {
		return fmt.Errorf("ioloop: %w", err)
	}
	l.wpos.Idx = next
	l.wpos.Off = 0
	l.logDiag()
	return nil
}

// logDiag emits one diagnostic line describing both cursors and the
// live page counters. Called on every page rollover, so its frequency
// scales with throughput rather than wall-clock time.
func (l *Loop) logDiag() {
	st := l.mgr.Stats()
	l.log.Printf("rpos=%s wpos=%s nmapped=%d nondisk=%d nfree=%d bytesin=%s bytesout=%s",
		l.rpos, l.wpos, st.NMapped, st.NOnDisk, st.NFree,
		humanize.Bytes(l.bytesIn), humanize.Bytes(l.bytesOut))
}
