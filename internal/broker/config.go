package broker

import "dlog/internal/config"

type Config struct {
	DLog config.DLogConfig
}
