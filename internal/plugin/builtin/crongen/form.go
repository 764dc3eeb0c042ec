package crongen

import (
	"crongen/internal/cronjob"
	core "crongen/internal/plugin"
)

func (p *Plugin) Form() (core.Form, map[string]any) {
	form := core.Form{
		core.VForm(
			core.VRow(
				core.VCol(6, core.VSwitch("enabled", "Enable plugin")),
				core.VCol(6, core.VSwitch("notify", "Send notification")),
			),
			core.VRow(
				core.VCol(12, core.VTextField("cron", "Cron expression", "5 fields, e.g. 0 0 * * *")),
			),
		),
	}
	def := cronjob.DefaultConfig()
	return form, map[string]any{
		"enabled":  def.Enabled,
		"cron":     def.Cron,
		"notify":   def.Notify,
		"onlyonce": def.OnlyOnce,
	}
}
