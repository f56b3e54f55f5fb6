package models

import (
	"fmt"
	"net"
	"strconv"
)

// Proxy — SOCKS5-прокси для подключения скрейпера к Telegram.
type Proxy struct {
	IP       string `json:"ip" yaml:"ip"`
	Port     int    `json:"port" yaml:"port"`
	Login    string `json:"login" yaml:"login"`
	Password string `json:"password" yaml:"password"`
}

// Addr возвращает адрес в виде host:port.
func (p Proxy) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// Validate проверяет, что адрес прокси заполнен.
func (p Proxy) Validate() error {
	if p.IP == "" {
		return fmt.Errorf("proxy ip is empty")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", p.Port)
	}
	return nil
}
