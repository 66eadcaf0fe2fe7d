package node

import "go.uber.org/zap"

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		conn, err := n.cfg.Network.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
			default:
				n.log.Debug("accept error", zap.Error(err))
			}
			return
		}
		go n.handleConn(conn, true)
	}
}
