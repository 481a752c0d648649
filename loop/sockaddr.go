//go:build linux

// File: loop/sockaddr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address resolution and non-blocking socket construction.

package loop

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// resolveSockaddr turns host:port into a unix.Sockaddr. Resolution runs on
// the calling goroutine, which is the loop goroutine when a handler dials.
func resolveSockaddr(host string, port int) (unix.Sockaddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, err
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}

func socketFamily(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// openSocket creates a non-blocking TCP socket for the sockaddr family.
func openSocket(sa unix.Sockaddr) (int, error) {
	return unix.Socket(socketFamily(sa), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// openServerSocket binds and listens a non-blocking server socket.
func openServerSocket(host string, port, backlog int) (int, unix.Sockaddr, error) {
	sa, err := resolveSockaddr(host, port)
	if err != nil {
		return -1, nil, err
	}
	fd, err := openSocket(sa)
	if err != nil {
		return -1, nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sa, nil
}

// boundPort reads back the port the kernel assigned, for port-zero binds.
func boundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return v.Port, nil
	case *unix.SockaddrInet6:
		return v.Port, nil
	}
	return 0, fmt.Errorf("unexpected sockaddr %T", sa)
}
