package steps

func init() {
	addStep(`^a link from (\w+) to (\w+) costing (\d+)$`, aLinkBetweenEndpoints)
	addStep(`^(\w+) allows multihop transfers$`, endpointAllowsMultihop)
	addStep(`^(\w+) is a tape endpoint$`, endpointIsTape)
}

func aLinkBetweenEndpoints(src, dst string, cost int) error {
	ctx.DaemonConfig.AddLink(src, dst, cost)
	return nil
}

func endpointAllowsMultihop(name string) error {
	ctx.DaemonConfig.EnsureRSE(name).Multihop = true
	return nil
}

func endpointIsTape(name string) error {
	ctx.DaemonConfig.EnsureRSE(name).Tape = true
	return nil
}
