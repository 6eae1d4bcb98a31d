package config

import (
	"github.com/ahrdadan/verifyq/internal/browser"
	"github.com/ahrdadan/verifyq/internal/verify"
)

// JourneyOptions maps the journey settings onto driver options
func (c *Config) JourneyOptions() verify.Options {
	return verify.Options{
		BaseURL:               c.BaseURL,
		SamplePath:            c.SamplePath,
		SuccessScreenshotPath: c.SuccessScreenshotPath,
		ErrorScreenshotPath:   c.ErrorScreenshotPath,
		DownloadTimeout:       c.DownloadTimeout,
		PollInterval:          c.PollInterval,
		FullPage:              c.FullPage,
	}
}

// LaunchOptions maps the browser settings onto launcher options
func (c *Config) LaunchOptions() browser.LaunchOptions {
	return browser.LaunchOptions{
		Bin:           c.ChromeBin,
		Headless:      c.Headless,
		ActionTimeout: c.ActionTimeout,
	}
}
