package ec

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ec"

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*Stats) float64
}

func newMetric(name, help string, kind prometheus.ValueType, value func(*Stats) float64) metric {
	return metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, []string{"device"}, nil),
		kind:  kind,
		value: value,
	}
}

func counter(name, help string, value func(*Stats) uint64) metric {
	return newMetric(name, help, prometheus.CounterValue, func(s *Stats) float64 { return float64(value(s)) })
}

var metrics = []metric{
	counter("links_total", "Links attached.", func(s *Stats) uint64 { return s.Links }),
	counter("reboots_total", "Reboots requested by the host.", func(s *Stats) uint64 { return s.Reboots }),
	newMetric("attached", "Whether a link is attached.", prometheus.GaugeValue, func(s *Stats) float64 {
		if s.Attached {
			return 1
		}
		return 0
	}),
	counter("mux_dropped_total", "Inbound packets dropped on the current link.", func(s *Stats) uint64 { return s.Mux.Dropped }),
	counter("flash_blocks_total", "Blocks programmed.", func(s *Stats) uint64 { return s.Flash.Blocks }),
	counter("flash_bytes_total", "Bytes programmed.", func(s *Stats) uint64 { return s.Flash.Bytes }),
	counter("flash_failures_total", "Blocks rejected by flash.", func(s *Stats) uint64 { return s.Flash.Failures }),
	counter("update_sessions_total", "Update sessions started.", func(s *Stats) uint64 { return s.Update.Sessions }),
	counter("update_failures_total", "Update protocol failures.", func(s *Stats) uint64 { return s.Update.Failures }),
	counter("update_dropped_total", "Update blocks dropped after a stall.", func(s *Stats) uint64 { return s.Update.Dropped }),
	counter("scratch_failures_total", "Scratch buffer requests refused.", func(s *Stats) uint64 { return s.ScratchFailed }),
	counter("hostcmd_requests_total", "Host command requests received.", func(s *Stats) uint64 { return s.HostCmd.Requests }),
	counter("hostcmd_responses_total", "Host command responses sent.", func(s *Stats) uint64 { return s.HostCmd.Responses }),
	counter("hostcmd_rx_bad_total", "Host command desyncs.", func(s *Stats) uint64 { return s.HostCmd.RxBad }),
	counter("i2c_frames_total", "I2C frames executed.", func(s *Stats) uint64 { return s.I2C.Frames }),
	counter("i2c_errors_total", "I2C frames failed.", func(s *Stats) uint64 { return s.I2C.Errors }),
	counter("dap_commands_total", "CMSIS-DAP commands executed.", func(s *Stats) uint64 { return s.DAP.Commands }),
	counter("dap_unknown_total", "Unknown CMSIS-DAP commands.", func(s *Stats) uint64 { return s.DAP.Unknown }),
}

var (
	rxPacketsDesc = prometheus.NewDesc("ec_port_rx_packets_total", "Packets received per port.", []string{"device", "port"}, nil)
	txPacketsDesc = prometheus.NewDesc("ec_port_tx_packets_total", "Packets sent per port.", []string{"device", "port"}, nil)
)

// Collector exports the counters of a Device to Prometheus.
type Collector struct {
	Device *Device
}

// NewCollector creates a Collector.
func NewCollector(d *Device) *Collector {
	return &Collector{Device: d}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range metrics {
		ch <- m.desc
	}
	ch <- rxPacketsDesc
	ch <- txPacketsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	id := c.Device.Config.ID
	stats := c.Device.Stats()
	for _, m := range metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&stats), id)
	}
	for port, ep := range stats.Endpoints {
		p := strconv.FormatUint(uint64(port), 10)
		ch <- prometheus.MustNewConstMetric(rxPacketsDesc, prometheus.CounterValue, float64(ep.RxPackets), id, p)
		ch <- prometheus.MustNewConstMetric(txPacketsDesc, prometheus.CounterValue, float64(ep.TxPackets), id, p)
	}
}
