//go:build linux

// Package socketcan is one of the two concrete CAN driver backends (the
// other is internal/serial): a raw AF_CAN socket bound to a Linux SocketCAN
// interface, adapted from internal/socketcan/device.go.
package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/naokiiwakami/mission-control/internal/canframe"
)

type Device struct {
	fd int
}

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw CAN socket, translating
// SocketCAN's EFF/RTR bit flags in can_id into the explicit Extended/Remote
// fields of canframe.Frame.
func (d *Device) ReadFrame(fr *canframe.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}

	// struct can_frame (linux/can.h):
	//   can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
	//   can_dlc u8    [4]
	//   pad     3B    [5:8]
	//   data    [8]   [8:16]
	raw := binary.LittleEndian.Uint32(buf[0:4])
	dlc := int(buf[4])
	if dlc < 0 || dlc > 8 {
		dlc = 8
	}

	fr.Extended = raw&unix.CAN_EFF_FLAG != 0
	fr.Remote = raw&unix.CAN_RTR_FLAG != 0
	if fr.Extended {
		fr.ID = raw & unix.CAN_EFF_MASK
	} else {
		fr.ID = raw & unix.CAN_SFF_MASK
	}
	fr.Length = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return nil
}

// WriteFrame writes one classic CAN frame to the raw CAN socket.
func (d *Device) WriteFrame(fr canframe.Frame) error {
	var buf [unix.CAN_MTU]byte
	id := fr.ID
	if fr.Extended {
		id = (id & unix.CAN_EFF_MASK) | unix.CAN_EFF_FLAG
	} else {
		id = id & unix.CAN_SFF_MASK
	}
	if fr.Remote {
		id |= unix.CAN_RTR_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = fr.Length
	copy(buf[8:], fr.Data[:fr.Length])
	_, err := unix.Write(d.fd, buf[:])
	return err
}

// SendFrame implements transport.Driver.
func (d *Device) SendFrame(fr canframe.Frame) error { return d.WriteFrame(fr) }
